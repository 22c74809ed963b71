package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
)

/*
LEARNING: LAST-WRITER-WINS MAP UPDATES

Every write to a shared map becomes an Op. An Op is identified by the client
that produced it plus that client's sequence number, and ordered against
other writes to the same key by a Lamport timestamp.

Merge rule for one key:
  higher timestamp wins → on a tie the higher client id wins

Because "pick the maximum" is commutative, associative and idempotent, two
replicas that have seen the same set of ops hold the same map contents no
matter in which order the ops arrived.

Knowing which ops a replica has seen:
  ops arrive out of order and superseded ops are never re-sent, so a replica
  tracks the sequence ranges it has seen per client. Its state vector is the
  contiguous prefix from 1. An update can carry Covers: ranges whose ops are
  all included in it or dominated by ops it includes, which fills the holes
  left by superseded writes.
*/

// Op is a single write (set or tombstone) to one key of one named map
type Op struct {
	Map     string          `json:"map"`
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
	Client  string          `json:"client"`
	Seq     uint64          `json:"seq"`
	Clock   uint64          `json:"ts"`
}

// wins reports whether o replaces other under the LWW rule.
// Identical ops never win against each other, so re-delivery is a no-op.
func (o Op) wins(other Op) bool {
	if o.Clock != other.Clock {
		return o.Clock > other.Clock
	}
	if o.Client != other.Client {
		return o.Client > other.Client
	}
	return o.Seq > other.Seq
}

// Update is the unit exchanged between replicas and stored by persistence
type Update struct {
	Ops    []Op              `json:"ops"`
	Covers map[string][]Span `json:"covers,omitempty"`
}

// Span is an inclusive range of sequence numbers of one client
type Span [2]uint64

// EncodeUpdate serializes an update for the wire or the local log
func EncodeUpdate(u Update) ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to encode update: %w", err)
	}
	return data, nil
}

// DecodeUpdate parses an encoded update
func DecodeUpdate(data []byte) (Update, error) {
	var u Update
	if len(data) == 0 {
		return u, nil
	}
	if err := json.Unmarshal(data, &u); err != nil {
		return Update{}, fmt.Errorf("failed to decode update: %w", err)
	}
	return u, nil
}

// MergeUpdates folds several encoded updates into one that produces the same
// state when applied. Superseded writes are dropped.
func MergeUpdates(updates ...[]byte) ([]byte, error) {
	winners := make(map[[2]string]Op)
	covered := make(map[string]seqRanges)
	for _, data := range updates {
		u, err := DecodeUpdate(data)
		if err != nil {
			return nil, err
		}
		for client, spans := range u.Covers {
			for _, span := range spans {
				covered[client] = covered[client].add(span)
			}
		}
		for _, op := range u.Ops {
			// dropped ops stay covered by the op that beat them
			covered[op.Client] = covered[op.Client].add(Span{op.Seq, op.Seq})
			k := [2]string{op.Map, op.Key}
			if cur, ok := winners[k]; !ok || op.wins(cur) {
				winners[k] = op
			}
		}
	}

	merged := Update{Ops: make([]Op, 0, len(winners))}
	for _, op := range winners {
		merged.Ops = append(merged.Ops, op)
	}
	sortOps(merged.Ops)
	if len(covered) > 0 {
		merged.Covers = make(map[string][]Span, len(covered))
		for client, r := range covered {
			merged.Covers[client] = r
		}
	}
	return EncodeUpdate(merged)
}

func sortOps(ops []Op) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Client != ops[j].Client {
			return ops[i].Client < ops[j].Client
		}
		return ops[i].Seq < ops[j].Seq
	})
}

// StateVector maps a client id to the highest sequence number up to which
// every op of that client has been seen
type StateVector map[string]uint64

// EncodeStateVector serializes a state vector
func EncodeStateVector(sv StateVector) ([]byte, error) {
	data, err := json.Marshal(sv)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state vector: %w", err)
	}
	return data, nil
}

// DecodeStateVector parses a state vector. Empty input is the empty vector.
func DecodeStateVector(data []byte) (StateVector, error) {
	sv := make(StateVector)
	if len(data) == 0 {
		return sv, nil
	}
	if err := json.Unmarshal(data, &sv); err != nil {
		return nil, fmt.Errorf("failed to decode state vector: %w", err)
	}
	return sv, nil
}

// seqRanges is the sorted, disjoint set of sequence numbers seen from one client
type seqRanges []Span

func (r seqRanges) add(span Span) seqRanges {
	if span[0] == 0 {
		span[0] = 1
	}
	if span[1] < span[0] {
		return r
	}

	out := append(r, span)
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })

	merged := out[:1]
	for _, cur := range out[1:] {
		last := &merged[len(merged)-1]
		if cur[0] <= last[1]+1 {
			if cur[1] > last[1] {
				last[1] = cur[1]
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// watermark is the end of the contiguous prefix starting at 1
func (r seqRanges) watermark() uint64 {
	if len(r) == 0 || r[0][0] != 1 {
		return 0
	}
	return r[0][1]
}

// above returns the parts of r past seq
func (r seqRanges) above(seq uint64) []Span {
	var out []Span
	for _, span := range r {
		if span[1] <= seq {
			continue
		}
		if span[0] <= seq {
			span[0] = seq + 1
		}
		out = append(out, span)
	}
	return out
}
