package hyperliquid

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newTestWSServer starts an httptest server that upgrades to a WS
// connection, records every subscribe command it receives, and lets the
// test push frames to the client via the returned send channel.
func newTestWSServer(t *testing.T) (url string, received *subscriptionLog, send chan []byte, closeSrv func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	log := &subscriptionLog{}
	sendCh := make(chan []byte, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for msg := range sendCh {
				if conn.WriteMessage(websocket.TextMessage, msg) != nil {
					return
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			log.add(msg)
		}
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, log, sendCh, srv.Close
}

type subscriptionLog struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (l *subscriptionLog) add(msg []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *subscriptionLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

func TestWSClientReplaysSubscriptionsOnConnect(t *testing.T) {
	url, log, _, closeSrv := newTestWSServer(t)
	defer closeSrv()

	client := NewWSClient(url, 100*time.Millisecond, func(json.RawMessage) {}, nil)
	client.SubscribeTrades("ETH")
	client.Start()
	defer client.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if log.count() >= 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if log.count() < 1 {
		t.Fatal("expected at least one subscribe command to reach the server")
	}
}

func TestWSClientDispatchesMessages(t *testing.T) {
	url, _, send, closeSrv := newTestWSServer(t)
	defer closeSrv()

	received := make(chan string, 1)
	client := NewWSClient(url, 100*time.Millisecond, func(msg json.RawMessage) {
		received <- string(msg)
	}, nil)
	client.Start()
	defer client.Stop()

	time.Sleep(100 * time.Millisecond) // let the connection establish
	send <- []byte(`{"channel":"trades","data":[]}`)

	select {
	case msg := <-received:
		if !strings.Contains(msg, "trades") {
			t.Errorf("unexpected message: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched message")
	}
}

func TestWSClientDropsMalformedFrames(t *testing.T) {
	url, _, send, closeSrv := newTestWSServer(t)
	defer closeSrv()

	var calls int
	var mu sync.Mutex
	client := NewWSClient(url, 100*time.Millisecond, func(json.RawMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, nil)
	client.Start()
	defer client.Stop()

	time.Sleep(100 * time.Millisecond)
	send <- []byte(`not json`)
	send <- []byte(`{"channel":"trades","data":[]}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("expected exactly 1 dispatched call (malformed frame dropped), got %d", calls)
	}
}

func TestWSClientStartStopIdempotent(t *testing.T) {
	url, _, _, closeSrv := newTestWSServer(t)
	defer closeSrv()

	client := NewWSClient(url, 50*time.Millisecond, func(json.RawMessage) {}, nil)
	client.Start()
	client.Start() // no-op, must not panic or deadlock
	client.Stop()
	client.Stop() // no-op
}
