package signaling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"blueprint-sync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

// tryNext is next without failing the test on timeout
func tryNext(conn *websocket.Conn, wait time.Duration, want func(*models.Message) bool) *models.Message {
	conn.SetReadDeadline(time.Now().Add(wait))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		var msg models.Message
		if json.Unmarshal(data, &msg) == nil && want(&msg) {
			return &msg
		}
	}
}

func TestRedisFanoutBridgesInstances(t *testing.T) {
	s := miniredis.RunT(t)

	f1, err := NewRedisFanout("redis://" + s.Addr())
	assert.Equal(t, err, nil)
	f2, err := NewRedisFanout("redis://" + s.Addr())
	assert.Equal(t, err, nil)

	hub1, base1 := startRelay(t, Options{Fanout: f1})
	hub2, base2 := startRelay(t, Options{Fanout: f2})

	a := dial(t, base1, "bp-1", "a")
	b := dial(t, base2, "bp-1", "b")
	waitPeers(t, hub1, "bp-1", 1)
	waitPeers(t, hub2, "bp-1", 1)

	// subscriptions come up asynchronously, so retry until one gets through
	var got *models.Message
	for i := 0; i < 30 && got == nil; i++ {
		send(t, a, &models.Message{Type: models.MessageTypeUpdate, Payload: []byte(`{"ops":[]}`)})
		got = tryNext(b, 100*time.Millisecond, ofType(models.MessageTypeUpdate))
	}
	if got == nil {
		t.Fatal("update never crossed the fanout")
	}
	assert.Equal(t, got.From, "a")

	// the publisher never hears its own message back
	silent(t, a, ofType(models.MessageTypeUpdate))
}

func TestRedisFanoutRejectsBadURL(t *testing.T) {
	_, err := NewRedisFanout("not a url")
	assert.NotEqual(t, err, nil)
}

// stuckFanout accepts publishes only once its context expires
type stuckFanout struct {
	published chan string
}

func (f *stuckFanout) Publish(ctx context.Context, room string, _ []byte) error {
	<-ctx.Done()
	f.published <- room
	return ctx.Err()
}

func (f *stuckFanout) Subscribe(ctx context.Context, _ func(string, []byte)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *stuckFanout) Close() error { return nil }

func TestSlowFanoutDoesNotStallRoom(t *testing.T) {
	fanout := &stuckFanout{published: make(chan string, 16)}
	hub, base := startRelay(t, Options{Fanout: fanout})

	a := dial(t, base, "bp-1", "a")
	waitPeers(t, hub, "bp-1", 1)
	_ = dial(t, base, "bp-1", "b")
	_ = dial(t, base, "bp-1", "c")

	start := time.Now()
	for _, from := range []string{"b", "c"} {
		got := tryNext(a, time.Second, func(m *models.Message) bool {
			return m.Type == models.MessageTypeJoin && m.From == from
		})
		if got == nil {
			t.Fatalf("join of %s never reached a", from)
		}
	}
	if time.Since(start) > publishTimeout {
		t.Fatalf("joins waited on the fanout: %v", time.Since(start))
	}

	// the joins still go out, just off the hub loop
	select {
	case room := <-fanout.published:
		assert.Equal(t, room, "bp-1")
	case <-time.After(2 * publishTimeout):
		t.Fatal("join was never published")
	}
}
