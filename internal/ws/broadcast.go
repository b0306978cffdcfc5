// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package ws serves the published snapshot over HTTP and pushes every change
// to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/forkbombeu/emuhub/internal/avd"
	"github.com/forkbombeu/emuhub/internal/state"
	"github.com/gorilla/websocket"
)

const (
	clientSendBuffer  = 64
	writeTimeout      = 10 * time.Second
	DefaultMaxClients = 16
)

var ErrTooManyConnections = errors.New("too many websocket connections")

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}

// Broadcaster pushes every store change to all connected clients.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	store    *state.Store
	env      avd.Env
	maxConns int

	updates     <-chan state.Snapshot
	unsubscribe func()
}

func NewBroadcaster(env avd.Env, store *state.Store, maxConns int) *Broadcaster {
	if maxConns <= 0 {
		maxConns = DefaultMaxClients
	}
	updates, unsubscribe := store.Subscribe()
	return &Broadcaster{
		clients:     make(map[*client]bool),
		store:       store,
		env:         env,
		maxConns:    maxConns,
		updates:     updates,
		unsubscribe: unsubscribe,
	}
}

// Run forwards store changes until ctx is done, then disconnects every client.
// Run must be called at most once.
func (b *Broadcaster) Run(ctx context.Context) {
	defer b.unsubscribe()
	defer b.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-b.updates:
			if !ok {
				return
			}
			b.broadcast(Message{Type: MsgSnapshot, Payload: snap})
		}
	}
}

// AddClient registers conn and queues the current snapshot as its first message.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	data, err := json.Marshal(Message{Type: MsgSnapshot, Payload: b.store.Snapshot()})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.clients) >= b.maxConns {
		return nil, ErrTooManyConnections
	}
	c := newClient(conn)
	c.send <- data
	b.clients[c] = true
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		avd.LogWarn(b.env, "broadcast marshal failed", "error", err.Error())
		return
	}

	// Channels are only closed under the write lock, so sending here is safe.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		avd.LogWarn(b.env, "websocket client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}
