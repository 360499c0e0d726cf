// Package buffer implements the cyclic buffer (C10): a ring of byte chunks
// shared by every viewer of one upstream stream, with optional overflow to
// disk and client lifecycle tracking.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/m3uproxy-core/internal/sandbox"
)

// ErrBufferClosed is returned once a Buffer has been closed.
var ErrBufferClosed = errors.New("buffer: closed")

// ErrClientNotFound is returned when a client ID has no matching entry.
var ErrClientNotFound = errors.New("buffer: client not found")

// Config configures a Buffer.
type Config struct {
	MaxBufferSize    int64
	MaxChunks        int
	ChunkTimeout     time.Duration
	ClientTimeout    time.Duration
	CleanupInterval  time.Duration
	EnableFileSpill  bool
	MaxFileSpillSize int64
	Logger           *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxBufferSize:    50 * 1024 * 1024,
		MaxChunks:        1000,
		ChunkTimeout:     60 * time.Second,
		ClientTimeout:    30 * time.Second,
		CleanupInterval:  5 * time.Second,
		EnableFileSpill:  false,
		MaxFileSpillSize: 200 * 1024 * 1024,
	}
}

// Chunk is one entry in the ring. Exactly one of Data or SpillPath is set:
// a chunk either holds its bytes in memory or has been spilled to disk.
type Chunk struct {
	Sequence  uint64
	Data      []byte
	SpillPath string
	Size      int
	Timestamp time.Time
}

func (c Chunk) spilled() bool { return c.SpillPath != "" }

// Buffer is the cyclic buffer itself.
type Buffer struct {
	cfg    Config
	id     string
	sb     *sandbox.Sandbox
	logger *slog.Logger

	mu       sync.RWMutex
	chunks   []Chunk
	sequence atomic.Uint64
	closed   bool

	clientsMu sync.RWMutex
	clients   map[uuid.UUID]*Client

	totalBytes    atomic.Uint64
	upstreamBytes atomic.Uint64
	currentSize   atomic.Int64
	spilledBytes  atomic.Int64
	spillCounter  atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Buffer. sb, when EnableFileSpill is set, is the sandbox
// spill files are written under; it may be nil when spilling is disabled.
func New(sb *sandbox.Sandbox, cfg Config) *Buffer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Buffer{
		cfg:     cfg,
		id:      uuid.New().String(),
		sb:      sb,
		logger:  cfg.Logger,
		chunks:  make([]Chunk, 0, cfg.MaxChunks),
		clients: make(map[uuid.UUID]*Client),
		stopCh:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.cleanupLoop()
	return b
}

// ID returns the buffer's correlation ID, also used as its spill directory name.
func (b *Buffer) ID() string { return b.id }

func (b *Buffer) spillDir() string {
	return fmt.Sprintf("spill_%s", b.id)
}

// WriteChunk appends data to the ring, spilling to disk first when the
// write would push the in-memory size over MaxBufferSize and spill is
// enabled, then broadcasts the new chunk to every attached client.
func (b *Buffer) WriteChunk(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBufferClosed
	}

	b.upstreamBytes.Add(uint64(len(data)))
	seq := b.sequence.Add(1)

	chunk := Chunk{Sequence: seq, Size: len(data), Timestamp: time.Now()}

	// MaxBufferSize is a literal byte cap, not an "unlimited when zero"
	// sentinel: a buffer configured with MaxBufferSize=0 accepts every
	// write but evicts it immediately after broadcast (see enforceLimits).
	wouldExceed := b.currentSize.Load()+int64(len(data)) > b.cfg.MaxBufferSize
	if wouldExceed && b.cfg.EnableFileSpill && b.sb != nil && b.spilledBytes.Load()+int64(len(data)) <= b.cfg.MaxFileSpillSize {
		path, err := b.spillToDisk(seq, data)
		if err != nil {
			b.logger.Warn("buffer: spill write failed, keeping chunk in memory", "error", err, "sequence", seq)
			chunk.Data = data
			b.currentSize.Add(int64(len(data)))
		} else {
			chunk.SpillPath = path
			b.spilledBytes.Add(int64(len(data)))
		}
	} else {
		chunk.Data = data
		b.currentSize.Add(int64(len(data)))
	}

	b.chunks = append(b.chunks, chunk)
	b.enforceLimits()
	b.totalBytes.Add(uint64(len(data)))
	b.mu.Unlock()

	b.notifyClients()
	return nil
}

func (b *Buffer) spillToDisk(seq uint64, data []byte) (string, error) {
	counter := b.spillCounter.Add(1)
	relPath := fmt.Sprintf("%s/chunk_%d_%d.dat", b.spillDir(), seq, counter)
	if _, err := b.sb.WriteFile(relPath, data); err != nil {
		return "", err
	}
	return relPath, nil
}

// enforceLimits drops oldest chunks while over cap; must hold the write lock.
func (b *Buffer) enforceLimits() {
	for len(b.chunks) > b.cfg.MaxChunks {
		b.evictOldestLocked()
	}
	for b.currentSize.Load() > b.cfg.MaxBufferSize && len(b.chunks) > 0 {
		if !b.chunks[0].spilled() {
			b.evictOldestLocked()
			continue
		}
		// Oldest chunk is already on disk; look for the oldest
		// in-memory chunk instead so we don't evict spilled data that
		// isn't contributing to the in-memory budget.
		evicted := false
		for i := range b.chunks {
			if !b.chunks[i].spilled() {
				b.evictAtLocked(i)
				evicted = true
				break
			}
		}
		if !evicted {
			break
		}
	}
}

func (b *Buffer) evictOldestLocked() {
	b.evictAtLocked(0)
}

func (b *Buffer) evictAtLocked(i int) {
	removed := b.chunks[i]
	b.chunks = append(b.chunks[:i], b.chunks[i+1:]...)
	if removed.spilled() {
		b.spilledBytes.Add(-int64(removed.Size))
		path := removed.SpillPath
		go func() {
			if err := b.sb.Remove(path); err != nil {
				b.logger.Warn("buffer: failed to delete evicted spill file", "path", path, "error", err)
			}
		}()
	} else {
		b.currentSize.Add(-int64(len(removed.Data)))
	}
}

func (b *Buffer) notifyClients() {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	for _, c := range b.clients {
		c.notify()
	}
}

// ReadChunksForClient returns every chunk with sequence greater than the
// client's last observed sequence, materialising spilled chunks by reading
// their file from disk.
func (b *Buffer) ReadChunksForClient(client *Client) ([]Chunk, error) {
	lastSeq := client.LastSequence()

	b.mu.RLock()
	pending := make([]Chunk, 0, len(b.chunks))
	for _, chunk := range b.chunks {
		if chunk.Sequence > lastSeq {
			pending = append(pending, chunk)
		}
	}
	b.mu.RUnlock()

	if len(pending) == 0 {
		return nil, nil
	}

	result := make([]Chunk, 0, len(pending))
	for _, chunk := range pending {
		if chunk.spilled() {
			data, err := b.sb.ReadFile(chunk.SpillPath)
			if err != nil {
				return result, fmt.Errorf("buffer: read spilled chunk %d: %w", chunk.Sequence, err)
			}
			chunk.Data = data
		}
		result = append(result, chunk)
		client.setLastSequence(chunk.Sequence)
		client.addBytesServed(uint64(len(chunk.Data)))
	}
	client.updateLastActivity()
	return result, nil
}

// ReadWithWait blocks until at least one chunk is available for client, or
// ctx is cancelled, or the buffer closes.
func (b *Buffer) ReadWithWait(ctx context.Context, client *Client) ([]Chunk, error) {
	for {
		chunks, err := b.ReadChunksForClient(client)
		if err != nil {
			return nil, err
		}
		if len(chunks) > 0 {
			return chunks, nil
		}

		if err := client.wait(ctx); err != nil {
			return nil, err
		}

		b.mu.RLock()
		closed := b.closed
		b.mu.RUnlock()
		if closed {
			return nil, ErrBufferClosed
		}
	}
}

func (b *Buffer) cleanupLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.cleanupOldChunks()
			b.cleanupStaleClients()
		}
	}
}

func (b *Buffer) cleanupOldChunks() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for len(b.chunks) > 0 && now.Sub(b.chunks[0].Timestamp) > b.cfg.ChunkTimeout {
		b.evictOldestLocked()
	}
}

func (b *Buffer) cleanupStaleClients() {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	for id, c := range b.clients {
		if c.isStale(b.cfg.ClientTimeout) {
			delete(b.clients, id)
		}
	}
}

// Close stops the cleanup loop, wakes every waiting client, and (when
// spilling was in use) removes the buffer's spill directory.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stopCh)

	b.clientsMu.RLock()
	for _, c := range b.clients {
		c.notify()
	}
	b.clientsMu.RUnlock()

	b.wg.Wait()

	if b.cfg.EnableFileSpill && b.sb != nil {
		if err := b.sb.RemoveAll(b.spillDir()); err != nil {
			b.logger.Warn("buffer: failed to remove spill directory on close", "error", err)
		}
	}
}

// IsClosed reports whether Close has been called.
func (b *Buffer) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
