package bus

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialTestBus spins up a bus behind an httptest server and returns a
// connected client-side socket. The connected frame is consumed so the
// subscription is known to be registered.
func dialTestBus(t *testing.T, b *Bus, room string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.Serve(room, conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var greeting Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if greeting.Type != EventConnected {
		t.Fatalf("greeting type = %q, want %s", greeting.Type, EventConnected)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	var msg Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return msg
}

func TestBroadcast_ReachesEveryRoomMember(t *testing.T) {
	b := New()
	c1 := dialTestBus(t, b, "dashboard")
	c2 := dialTestBus(t, b, "dashboard")

	n := b.Broadcast("dashboard", EventOrdersSynced, map[string]int{"count": 3})
	if n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}

	for _, conn := range []*websocket.Conn{c1, c2} {
		msg := readFrame(t, conn)
		if msg.Type != EventOrdersSynced {
			t.Errorf("type = %q, want %s", msg.Type, EventOrdersSynced)
		}
		if msg.Timestamp == "" {
			t.Error("timestamp missing")
		}
		data, _ := msg.Data.(map[string]interface{})
		if data["count"] != float64(3) {
			t.Errorf("data = %v", msg.Data)
		}
	}
}

func TestBroadcast_EmptyRoomDeliversZero(t *testing.T) {
	b := New()
	if n := b.Broadcast("nobody", EventSyncStatus, nil); n != 0 {
		t.Errorf("delivered = %d, want 0", n)
	}
}

func TestBroadcast_RoomsAreIsolated(t *testing.T) {
	b := New()
	dash := dialTestBus(t, b, "dashboard")
	dialTestBus(t, b, "admin")

	if n := b.Broadcast("dashboard", EventGoalProgress, nil); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	msg := readFrame(t, dash)
	if msg.Type != EventGoalProgress {
		t.Errorf("type = %q", msg.Type)
	}
}

func TestHandleMessage_PingGetsPong(t *testing.T) {
	b := New()
	conn := dialTestBus(t, b, "dashboard")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if msg := readFrame(t, conn); msg.Type != EventPong {
		t.Errorf("reply = %q, want pong", msg.Type)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping"}`)); err != nil {
		t.Fatalf("write json ping: %v", err)
	}
	if msg := readFrame(t, conn); msg.Type != EventPong {
		t.Errorf("json reply = %q, want pong", msg.Type)
	}
}

func TestIsPing(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"ping", true},
		{`{"action":"ping"}`, true},
		{`{"action":"hello"}`, false},
		{"not json", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isPing([]byte(c.raw)); got != c.want {
			t.Errorf("isPing(%q) = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestCleanupStale_EvictsIdleClients(t *testing.T) {
	b := New()
	dialTestBus(t, b, "dashboard")

	time.Sleep(20 * time.Millisecond)
	if n := b.CleanupStale(time.Nanosecond); n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}
	if st := b.Stats(); st.ActiveClients != 0 {
		t.Errorf("active after cleanup = %d, want 0", st.ActiveClients)
	}

	if n := b.CleanupStale(time.Nanosecond); n != 0 {
		t.Errorf("second cleanup = %d, want 0", n)
	}
}

func TestStats_CountsRoomsAndTraffic(t *testing.T) {
	b := New()
	dialTestBus(t, b, "dashboard")
	dialTestBus(t, b, "dashboard")
	dialTestBus(t, b, "admin")

	b.Broadcast("dashboard", EventSyncStatus, nil)

	st := b.Stats()
	if st.ActiveClients != 3 {
		t.Errorf("active = %d, want 3", st.ActiveClients)
	}
	if st.Rooms["dashboard"] != 2 || st.Rooms["admin"] != 1 {
		t.Errorf("rooms = %v", st.Rooms)
	}
	if st.TotalConnections != 3 {
		t.Errorf("total connections = %d, want 3", st.TotalConnections)
	}
	// 3 greetings + 2 broadcast deliveries.
	if st.MessagesSent != 5 {
		t.Errorf("messages sent = %d, want 5", st.MessagesSent)
	}
}

func TestBroadcastAll_HitsEveryRoom(t *testing.T) {
	b := New()
	dash := dialTestBus(t, b, "dashboard")
	admin := dialTestBus(t, b, "admin")

	if n := b.BroadcastAll(EventMilestoneReached, map[string]string{"label": "1M"}); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	for _, conn := range []*websocket.Conn{dash, admin} {
		if msg := readFrame(t, conn); msg.Type != EventMilestoneReached {
			t.Errorf("type = %q", msg.Type)
		}
	}
}

func TestMessageWireShape(t *testing.T) {
	raw, err := json.Marshal(newMessage(EventSyncStatus, map[string]bool{"running": true}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	json.Unmarshal(raw, &decoded)
	if decoded["type"] != "sync_status" {
		t.Errorf("type = %v", decoded["type"])
	}
	if _, ok := decoded["timestamp"].(string); !ok {
		t.Error("timestamp should be a string")
	}
	if _, ok := decoded["data"]; !ok {
		t.Error("data missing")
	}
}
