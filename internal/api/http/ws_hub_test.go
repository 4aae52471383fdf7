package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"seekstream/internal/domain"
	"seekstream/internal/usecase"
)

// ---- helpers ----

// startTestHub creates a hub and runs it until the test ends. Fake clients
// have no conn; Close skips the close frame for them.
func startTestHub(t *testing.T) *wsHub {
	t.Helper()
	hub := newWSHub(slog.Default())
	go hub.run()
	t.Cleanup(hub.Close)
	return hub
}

func registerFake(t *testing.T, hub *wsHub, buffer int) *wsClient {
	t.Helper()
	c := &wsClient{hub: hub, send: make(chan []byte, buffer)}
	hub.register <- c
	return c
}

func waitClients(t *testing.T, hub *wsHub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.clientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.clientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, c *wsClient) wsMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return wsMessage{}
}

// dialWS upgrades an httptest.Server to a WebSocket connection.
func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	resp.Body.Close()
	return conn
}

// ---- wsHub unit tests ----

func TestWSHub_RegisterUnregister(t *testing.T) {
	hub := startTestHub(t)

	clients := make([]*wsClient, 5)
	for i := range clients {
		clients[i] = registerFake(t, hub, 8)
	}
	waitClients(t, hub, 5)

	for i := 0; i < 3; i++ {
		hub.unregister <- clients[i]
	}
	waitClients(t, hub, 2)

	// Unknown clients are ignored.
	hub.unregister <- &wsClient{hub: hub, send: make(chan []byte)}
	waitClients(t, hub, 2)
}

func TestWSHub_BroadcastToClients(t *testing.T) {
	hub := startTestHub(t)
	c1 := registerFake(t, hub, 8)
	c2 := registerFake(t, hub, 8)
	waitClients(t, hub, 2)

	hub.Broadcast("test", "hello")

	for _, c := range []*wsClient{c1, c2} {
		if msg := receive(t, c); msg.Type != "test" {
			t.Fatalf("type = %q, want test", msg.Type)
		}
	}
}

func TestWSHub_BroadcastDropsSlowClient(t *testing.T) {
	hub := startTestHub(t)
	slow := registerFake(t, hub, 1)
	waitClients(t, hub, 1)

	slow.send <- []byte("fill")
	hub.Broadcast("test", "x")

	waitClients(t, hub, 0)
}

func TestWSHub_BroadcastStatus(t *testing.T) {
	hub := startTestHub(t)
	c := registerFake(t, hub, 8)
	waitClients(t, hub, 1)

	hub.BroadcastStatus([]domain.SessionStats{
		{ID: "abc", Progress: 0.42, Peers: 5, DownloadRate: 1024},
		{ID: "def", Progress: 1, Ready: true},
	})

	msg := receive(t, c)
	if msg.Type != "status" {
		t.Fatalf("type = %q, want status", msg.Type)
	}
	arr, ok := msg.Data.([]interface{})
	if !ok || len(arr) != 2 {
		t.Fatalf("data = %#v, want two entries", msg.Data)
	}
}

func TestWSHub_BroadcastWithoutClientsIsNoop(t *testing.T) {
	hub := startTestHub(t)
	hub.Broadcast("status", []string{"x"})
	if len(hub.broadcast) != 0 {
		t.Fatalf("expected nothing queued, got %d", len(hub.broadcast))
	}
}

func TestWSHub_BroadcastMarshalFailure(t *testing.T) {
	hub := startTestHub(t)
	c := registerFake(t, hub, 8)
	waitClients(t, hub, 1)

	hub.Broadcast("bad", make(chan int))
	time.Sleep(20 * time.Millisecond)

	select {
	case <-c.send:
		t.Fatal("should not receive message when marshal fails")
	default:
	}
}

// ---- WebSocket HTTP handler tests ----

type staticList struct {
	views []usecase.TorrentView
}

func (l staticList) Execute() []usecase.TorrentView { return l.views }

func TestHandleWS_PushesSessionStatus(t *testing.T) {
	list := staticList{views: []usecase.TorrentView{
		{SessionStats: domain.SessionStats{ID: "abc", Name: "movie", Progress: 0.5}},
	}}
	s := NewServer(nil, WithListTorrents(list), WithStatusInterval(10*time.Millisecond))
	defer s.Close()
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws message: %v", err)
	}
	var msg struct {
		Type string                `json:"type"`
		Data []domain.SessionStats `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, data)
	}
	if msg.Type != "status" || len(msg.Data) != 1 || msg.Data[0].ID != "abc" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestHandleWS_CloseDisconnectsClients(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	c1 := dialWS(t, srv)
	c2 := dialWS(t, srv)
	defer c1.Close()
	defer c2.Close()
	waitClients(t, s.wsHub, 2)

	s.Close()

	for i, c := range []*websocket.Conn{c1, c2} {
		_ = c.SetReadDeadline(time.Now().Add(time.Second))
		if _, _, err := c.ReadMessage(); err == nil {
			t.Fatalf("client %d: expected error after close", i)
		}
	}
}

func TestHandleWS_RejectsOriginOutsidePolicy(t *testing.T) {
	s := NewServer(nil, WithAllowedOrigins([]string{"https://player.example"}))
	defer s.Close()
	srv := httptest.NewServer(s)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatalf("expected upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %+v, want 403", resp)
	}
	resp.Body.Close()

	header.Set("Origin", "https://player.example/")
	conn, resp, err = websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial allowed origin: %v", err)
	}
	resp.Body.Close()
	conn.Close()
}
