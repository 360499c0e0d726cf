package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Client represents one viewer attached to a Buffer.
type Client struct {
	ID          uuid.UUID
	UserAgent   string
	RemoteAddr  string
	ConnectedAt time.Time

	lastSequence atomic.Uint64
	bytesServed  atomic.Uint64

	activityMu   sync.RWMutex
	lastActivity time.Time

	waitCh chan struct{}
}

func newClient(userAgent, remoteAddr string) *Client {
	now := time.Now()
	return &Client{
		ID:           uuid.New(),
		UserAgent:    userAgent,
		RemoteAddr:   remoteAddr,
		ConnectedAt:  now,
		lastActivity: now,
		waitCh:       make(chan struct{}, 1),
	}
}

// LastSequence returns the highest sequence number already delivered to this client.
func (c *Client) LastSequence() uint64 { return c.lastSequence.Load() }

func (c *Client) setLastSequence(seq uint64) { c.lastSequence.Store(seq) }

// BytesServed returns the total bytes delivered to this client.
func (c *Client) BytesServed() uint64 { return c.bytesServed.Load() }

func (c *Client) addBytesServed(n uint64) { c.bytesServed.Add(n) }

func (c *Client) updateLastActivity() {
	c.activityMu.Lock()
	c.lastActivity = time.Now()
	c.activityMu.Unlock()
}

// LastActivity returns the last time a chunk was delivered to this client.
func (c *Client) LastActivity() time.Time {
	c.activityMu.RLock()
	defer c.activityMu.RUnlock()
	return c.lastActivity
}

func (c *Client) isStale(timeout time.Duration) bool {
	return time.Since(c.LastActivity()) > timeout
}

func (c *Client) notify() {
	select {
	case c.waitCh <- struct{}{}:
	default:
	}
}

func (c *Client) wait(ctx context.Context) error {
	select {
	case <-c.waitCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddClient attaches a new client at the buffer's current sequence, so it
// only receives chunks written after this call.
func (b *Buffer) AddClient(userAgent, remoteAddr string) (*Client, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrBufferClosed
	}
	currentSeq := b.sequence.Load()
	b.mu.RUnlock()

	client := newClient(userAgent, remoteAddr)
	client.setLastSequence(currentSeq)

	b.clientsMu.Lock()
	b.clients[client.ID] = client
	b.clientsMu.Unlock()

	return client, nil
}

// RemoveClient detaches a client, returning false if it wasn't present.
func (b *Buffer) RemoveClient(id uuid.UUID) bool {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	if _, ok := b.clients[id]; ok {
		delete(b.clients, id)
		return true
	}
	return false
}

// GetClient looks up a client by ID.
func (b *Buffer) GetClient(id uuid.UUID) (*Client, bool) {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	c, ok := b.clients[id]
	return c, ok
}

// ClientCount returns the number of attached clients.
func (b *Buffer) ClientCount() int {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	return len(b.clients)
}

// ClientSnapshot is one entry returned by GetConnectedClients.
type ClientSnapshot struct {
	ID           string    `json:"id"`
	IP           string    `json:"ip"`
	UserAgent    string    `json:"user_agent,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	BytesServed  uint64    `json:"bytes_served"`
	LastActivity time.Time `json:"last_activity"`
}

// GetConnectedClients enumerates every attached client. Timestamps are
// derived from each client's elapsed-time fields relative to the current
// wall clock at call time.
func (b *Buffer) GetConnectedClients() []ClientSnapshot {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()

	now := time.Now()
	out := make([]ClientSnapshot, 0, len(b.clients))
	for _, c := range b.clients {
		connectedElapsed := now.Sub(c.ConnectedAt)
		activityElapsed := now.Sub(c.LastActivity())
		out = append(out, ClientSnapshot{
			ID:           c.ID.String(),
			IP:           c.RemoteAddr,
			UserAgent:    c.UserAgent,
			ConnectedAt:  now.Add(-connectedElapsed),
			BytesServed:  c.BytesServed(),
			LastActivity: now.Add(-activityElapsed),
		})
	}
	return out
}
