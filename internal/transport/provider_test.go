package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blueprint-sync/internal/crdt"
	"blueprint-sync/internal/models"
	"blueprint-sync/internal/repository"
	"blueprint-sync/internal/signaling"
	"blueprint-sync/internal/testutil"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

func startRelay(t *testing.T, opts signaling.Options) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := signaling.NewHub(opts)
	hub.Start(ctx)

	router := mux.NewRouter()
	router.HandleFunc("/ws/blueprints/{id}", signaling.NewWebSocketHandler(hub).HandleRoom)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		hub.Shutdown()
		server.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/blueprints"
}

func fastSettings() *Settings {
	s := DefaultSettings()
	s.ReconnectTimeout = 50 * time.Millisecond
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func has(doc *crdt.Doc, key string) func() bool {
	return func() bool { return doc.Map("nodes").Has(key) }
}

func TestPeersConverge(t *testing.T) {
	url := startRelay(t, signaling.Options{})
	ctx := context.Background()

	a := crdt.NewDoc(crdt.WithClientID("a"))
	b := crdt.NewDoc(crdt.WithClientID("b"))
	pa := Connect(ctx, url, "bp-1", a, fastSettings())
	defer pa.Disconnect()
	pb := Connect(ctx, url, "bp-1", b, fastSettings())
	defer pb.Disconnect()

	eventually(t, "both connected", func() bool { return pa.Connected() && pb.Connected() })
	eventually(t, "peers see each other", func() bool { return len(pa.Peers()) == 1 && len(pb.Peers()) == 1 })

	assert.Equal(t, a.Map("nodes").Set("n1", 1), nil)
	eventually(t, "n1 at b", has(b, "n1"))

	assert.Equal(t, b.Map("nodes").Set("n2", 2), nil)
	eventually(t, "n2 at a", has(a, "n2"))

	assert.Equal(t, a.Map("nodes").Delete("n2"), nil)
	eventually(t, "n2 deleted at b", func() bool { return !b.Map("nodes").Has("n2") })
}

func TestOfflineEditsExchangedOnJoin(t *testing.T) {
	url := startRelay(t, signaling.Options{})
	ctx := context.Background()

	a := crdt.NewDoc(crdt.WithClientID("a"))
	b := crdt.NewDoc(crdt.WithClientID("b"))
	assert.Equal(t, a.Map("nodes").Set("from-a", 1), nil)
	assert.Equal(t, b.Map("nodes").Set("from-b", 1), nil)

	pb := Connect(ctx, url, "bp-1", b, fastSettings())
	defer pb.Disconnect()
	eventually(t, "b connected", pb.Connected)

	pa := Connect(ctx, url, "bp-1", a, fastSettings())
	defer pa.Disconnect()

	eventually(t, "b has a's edit", has(b, "from-a"))
	eventually(t, "a has b's edit", has(a, "from-b"))

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	assert.Equal(t, pa.WhenSynced(wctx), nil)
}

func TestLateJoinerSyncsFromRelayLog(t *testing.T) {
	store := repository.NewUpdateRepository(testutil.NewSQLite(t).DB)
	url := startRelay(t, signaling.Options{Store: store})
	ctx := context.Background()

	a := crdt.NewDoc(crdt.WithClientID("a"))
	pa := Connect(ctx, url, "bp-1", a, fastSettings())
	eventually(t, "a connected", pa.Connected)
	assert.Equal(t, a.Map("nodes").Set("n1", 1), nil)
	eventually(t, "update stored", func() bool {
		rows, err := store.GetAllUpdates(ctx, "bp-1")
		if err != nil {
			return false
		}
		stored := crdt.NewDoc()
		for _, row := range rows {
			_ = stored.ApplyUpdate(row.Update, nil)
		}
		return stored.Map("nodes").Has("n1")
	})
	pa.Disconnect()

	b := crdt.NewDoc(crdt.WithClientID("b"))
	pb := Connect(ctx, url, "bp-1", b, fastSettings())
	defer pb.Disconnect()

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	assert.Equal(t, pb.WhenSynced(wctx), nil)
	assert.Equal(t, b.Map("nodes").Has("n1"), true)
}

func TestUnreachableRelayDoesNotBlock(t *testing.T) {
	doc := crdt.NewDoc()

	start := time.Now()
	p := Connect(context.Background(), "ws://127.0.0.1:1/ws/blueprints", "bp-1", doc, fastSettings())
	if time.Since(start) > time.Second {
		t.Fatal("Connect blocked")
	}

	// the document keeps working locally
	assert.Equal(t, doc.Map("nodes").Set("n1", 1), nil)
	assert.Equal(t, doc.Map("nodes").Has("n1"), true)
	assert.Equal(t, p.Connected(), false)

	p.Disconnect()
	p.Disconnect()
	assert.Equal(t, p.Status(), StatusDisconnected)
}

func TestDisconnectStopsBroadcasting(t *testing.T) {
	url := startRelay(t, signaling.Options{})
	ctx := context.Background()

	a := crdt.NewDoc(crdt.WithClientID("a"))
	b := crdt.NewDoc(crdt.WithClientID("b"))
	pa := Connect(ctx, url, "bp-1", a, fastSettings())
	pb := Connect(ctx, url, "bp-1", b, fastSettings())
	defer pb.Disconnect()
	eventually(t, "both connected", func() bool { return pa.Connected() && pb.Connected() })

	pa.Disconnect()
	assert.Equal(t, a.Map("nodes").Set("after", 1), nil)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, b.Map("nodes").Has("after"), false)
}

func TestAwarenessReachesPeers(t *testing.T) {
	url := startRelay(t, signaling.Options{})
	ctx := context.Background()

	a := crdt.NewDoc(crdt.WithClientID("a"))
	b := crdt.NewDoc(crdt.WithClientID("b"))
	pa := Connect(ctx, url, "bp-1", a, fastSettings())
	defer pa.Disconnect()
	pb := Connect(ctx, url, "bp-1", b, fastSettings())
	defer pb.Disconnect()
	eventually(t, "both connected", func() bool { return pa.Connected() && pb.Connected() })

	pa.SetAwareness(&models.AwarenessState{User: &models.UserInfo{Name: "Ana"}, Selected: []string{"n1"}})
	eventually(t, "awareness at b", func() bool { return pb.Awareness()["a"] != nil })
	assert.Equal(t, pb.Awareness()["a"].User.Name, "Ana")

	pa.SetAwareness(nil)
	eventually(t, "awareness cleared at b", func() bool { return pb.Awareness()["a"] == nil })
}

func TestHandshakeFillsSkippedSequence(t *testing.T) {
	url := startRelay(t, signaling.Options{})
	ctx := context.Background()

	c := crdt.NewDoc(crdt.WithClientID("c"))
	var updates [][]byte
	c.OnUpdate(func(update []byte, origin any) { updates = append(updates, update) })
	assert.Equal(t, c.Map("nodes").Set("offline-edit", 1), nil)
	assert.Equal(t, c.Map("nodes").Set("live-edit", 2), nil)

	// b only ever saw the second edit
	b := crdt.NewDoc(crdt.WithClientID("b"))
	assert.Equal(t, b.ApplyUpdate(updates[1], nil), nil)

	pc := Connect(ctx, url, "bp-1", c, fastSettings())
	defer pc.Disconnect()
	eventually(t, "c connected", pc.Connected)

	pb := Connect(ctx, url, "bp-1", b, fastSettings())
	defer pb.Disconnect()

	eventually(t, "offline-edit at b", has(b, "offline-edit"))
	assert.Equal(t, b.Map("nodes").Keys(), []string{"live-edit", "offline-edit"})
	assert.Equal(t, b.StateVector()["c"], uint64(2))
}

func TestSyncStep1IsFirstFrame(t *testing.T) {
	url := startRelay(t, signaling.Options{})
	ctx := context.Background()

	watcher, _, err := websocket.DefaultDialer.Dial(url+"/bp-1?client_id=watcher", nil)
	assert.Equal(t, err, nil)
	defer watcher.Close()

	doc := crdt.NewDoc(crdt.WithClientID("p"))
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = doc.Map("nodes").Set(fmt.Sprintf("n%d", i), i)
			time.Sleep(time.Millisecond)
		}
	}()

	p := Connect(ctx, url, "bp-1", doc, fastSettings())
	defer p.Disconnect()

	_ = watcher.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := watcher.ReadMessage()
		if err != nil {
			t.Fatalf("no frame from p: %v", err)
		}
		var msg models.Message
		assert.Equal(t, json.Unmarshal(data, &msg), nil)
		if msg.From != "p" || msg.Type == models.MessageTypeJoin {
			continue
		}
		assert.Equal(t, msg.Type, models.MessageTypeSyncStep1)
		return
	}
}

func TestOnStatusReportsTransitions(t *testing.T) {
	url := startRelay(t, signaling.Options{})
	doc := crdt.NewDoc(crdt.WithClientID("a"))

	p := Connect(context.Background(), url, "bp-1", doc, fastSettings())
	statuses := make(chan Status, 8)
	p.OnStatus(func(s Status) { statuses <- s })
	eventually(t, "connected", p.Connected)

	p.Disconnect()
	for {
		select {
		case s := <-statuses:
			if s == StatusDisconnected {
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatal("no disconnected transition")
		}
	}
}
