// Package bus fans dashboard events out to WebSocket subscribers grouped in
// rooms. Sends never run under the registry lock: Broadcast snapshots the
// room, then writes concurrently and evicts whoever failed.
package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sales-pulse/internal/logger"
)

// Event names pushed over the wire.
const (
	EventOrdersSynced     = "orders_synced"
	EventInventoryUpdated = "inventory_updated"
	EventExpensesUpdated  = "expenses_updated"
	EventGoalProgress     = "goal_progress"
	EventMilestoneReached = "milestone_reached"
	EventSyncStatus       = "sync_status"
	EventConnected        = "connected"
	EventPong             = "pong"
)

// Message is the JSON frame every subscriber receives.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func newMessage(event string, data interface{}) Message {
	return Message{Type: event, Data: data, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// Bus is the room registry.
type Bus struct {
	mu    sync.Mutex
	rooms map[string]map[string]*Client

	totalConnections atomic.Int64
	messagesSent     atomic.Int64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{rooms: make(map[string]map[string]*Client)}
}

// Subscribe adds a client to a room and greets it with a connected frame.
func (b *Bus) Subscribe(room string, c *Client) {
	b.mu.Lock()
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[string]*Client)
	}
	b.rooms[room][c.ID] = c
	size := len(b.rooms[room])
	b.mu.Unlock()

	b.totalConnections.Add(1)
	logger.Info("Bus", fmt.Sprintf("Client %s joined %s (%d in room)", c.ID, room, size))

	if err := c.send(newMessage(EventConnected, map[string]interface{}{
		"room":      room,
		"client_id": c.ID,
	})); err == nil {
		b.messagesSent.Add(1)
	}
}

// Unsubscribe removes a client from every room and closes its connection.
func (b *Bus) Unsubscribe(c *Client) {
	b.mu.Lock()
	for room, members := range b.rooms {
		if _, ok := members[c.ID]; ok {
			delete(members, c.ID)
			if len(members) == 0 {
				delete(b.rooms, room)
			}
		}
	}
	b.mu.Unlock()
	c.close()
}

// Broadcast sends one event to a room and returns how many clients got it.
// Members are snapshotted under the lock; the sends run concurrently outside
// it, and a failed send evicts the client.
func (b *Bus) Broadcast(room, event string, data interface{}) int {
	b.mu.Lock()
	members := make([]*Client, 0, len(b.rooms[room]))
	for _, c := range b.rooms[room] {
		members = append(members, c)
	}
	b.mu.Unlock()
	if len(members) == 0 {
		return 0
	}

	msg := newMessage(event, data)
	var wg sync.WaitGroup
	var delivered atomic.Int64
	var failed sync.Map
	for _, c := range members {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := c.send(msg); err != nil {
				failed.Store(c, struct{}{})
				return
			}
			delivered.Add(1)
		}(c)
	}
	wg.Wait()

	failed.Range(func(key, _ interface{}) bool {
		c := key.(*Client)
		logger.Warn("Bus", fmt.Sprintf("Dropping client %s (send failed)", c.ID))
		b.Unsubscribe(c)
		return true
	})

	b.messagesSent.Add(delivered.Load())
	return int(delivered.Load())
}

// BroadcastAll sends one event to every room.
func (b *Bus) BroadcastAll(event string, data interface{}) int {
	b.mu.Lock()
	names := make([]string, 0, len(b.rooms))
	for room := range b.rooms {
		names = append(names, room)
	}
	b.mu.Unlock()

	total := 0
	for _, room := range names {
		total += b.Broadcast(room, event, data)
	}
	return total
}

// HandleMessage processes one inbound frame. Bare "ping" and
// {"action":"ping"} get a pong; anything else just refreshes activity.
func (b *Bus) HandleMessage(c *Client, raw []byte) {
	c.touch()
	if isPing(raw) {
		if err := c.send(newMessage(EventPong, nil)); err == nil {
			b.messagesSent.Add(1)
		}
	}
}

func isPing(raw []byte) bool {
	if string(raw) == "ping" {
		return true
	}
	var frame struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return false
	}
	return frame.Action == "ping"
}

// CleanupStale evicts clients idle longer than maxIdle and reports how many.
func (b *Bus) CleanupStale(maxIdle time.Duration) int {
	b.mu.Lock()
	var stale []*Client
	for _, members := range b.rooms {
		for _, c := range members {
			if c.idleFor() > maxIdle {
				stale = append(stale, c)
			}
		}
	}
	b.mu.Unlock()

	for _, c := range stale {
		logger.Info("Bus", fmt.Sprintf("Evicting stale client %s (idle %s)", c.ID, c.idleFor().Round(time.Second)))
		b.Unsubscribe(c)
	}
	return len(stale)
}

// Stats is the bus health snapshot served by the API.
type Stats struct {
	Rooms            map[string]int `json:"rooms"`
	ActiveClients    int            `json:"active_clients"`
	TotalConnections int64          `json:"total_connections"`
	MessagesSent     int64          `json:"messages_sent"`
}

// Stats reports room sizes and lifetime counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Stats{
		Rooms:            make(map[string]int, len(b.rooms)),
		TotalConnections: b.totalConnections.Load(),
		MessagesSent:     b.messagesSent.Load(),
	}
	for room, members := range b.rooms {
		st.Rooms[room] = len(members)
		st.ActiveClients += len(members)
	}
	return st
}
