// Package stream buffers live audio uploads to durable files, one open
// sink per (session, question) key at a time.
package stream

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultIdleTimeout bounds how long an abandoned buffer stays open
// before the registry reclaims it.
const DefaultIdleTimeout = 5 * time.Minute

// PublicPrefix is the static-serving prefix under which finalized audio
// resources are exposed to report consumers.
const PublicPrefix = "/uploads/audio"

// Registry owns the transient per-key stream buffers. The registry
// mutex guards the key map; each buffer carries its own mutex so
// appends, finalize, and idle expiry for one key serialize without
// blocking other keys.
type Registry struct {
	dir         string
	idleTimeout time.Duration

	mu   sync.Mutex
	bufs map[string]*buffer
}

type buffer struct {
	mu        sync.Mutex
	file      *os.File
	relPath   string
	chunks    int
	lastChunk time.Time
	timer     *time.Timer
	closed    bool
}

// NewRegistry creates a registry writing under dir, creating it if
// needed.
func NewRegistry(dir string, idleTimeout time.Duration) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Registry{
		dir:         dir,
		idleTimeout: idleTimeout,
		bufs:        make(map[string]*buffer),
	}, nil
}

func streamKey(sessionID, questionID int64) string {
	return fmt.Sprintf("%d_%d", sessionID, questionID)
}

// resourceName builds a collision-resistant file name from the arrival
// time, session, question, and a random suffix.
func resourceName(sessionID, questionID int64) string {
	return fmt.Sprintf("%d-%d-%d-%s.webm",
		time.Now().UnixMilli(), sessionID, questionID, uuid.NewString()[:8])
}

// Append writes a decoded chunk to the buffer for the key, creating the
// buffer and its file lazily on first use. It returns the number of
// chunks received so far; callers use it to emit periodic progress
// notifications. The idle timer is re-armed on every chunk.
func (r *Registry) Append(sessionID, questionID int64, chunk []byte) (int, error) {
	key := streamKey(sessionID, questionID)

	for {
		r.mu.Lock()
		b := r.bufs[key]
		if b == nil {
			name := resourceName(sessionID, questionID)
			f, err := os.OpenFile(filepath.Join(r.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				// Key stays unregistered so the next chunk retries.
				r.mu.Unlock()
				return 0, fmt.Errorf("open audio sink: %w", err)
			}
			b = &buffer{
				file:      f,
				relPath:   PublicPrefix + "/" + name,
				lastChunk: time.Now(),
			}
			b.timer = time.AfterFunc(r.idleTimeout, func() { r.expire(key, b) })
			r.bufs[key] = b
			slog.Debug("opened stream buffer", "key", key, "path", b.relPath)
		}
		r.mu.Unlock()

		b.mu.Lock()
		if b.closed {
			// Finalized or expired between lookup and lock; retry with
			// a fresh buffer. The closer already removed the entry.
			b.mu.Unlock()
			continue
		}
		if _, err := b.file.Write(chunk); err != nil {
			b.mu.Unlock()
			return 0, fmt.Errorf("append chunk: %w", err)
		}
		b.chunks++
		b.lastChunk = time.Now()
		b.timer.Reset(r.idleTimeout)
		count := b.chunks
		b.mu.Unlock()
		return count, nil
	}
}

// Finalize closes and seals the buffer for the key, returning the
// public path of the durable resource. ok is false when no buffer is
// open for the key; that is the documented "no active stream" signal,
// not an error, and leaves state unchanged.
func (r *Registry) Finalize(sessionID, questionID int64) (relPath string, ok bool, err error) {
	key := streamKey(sessionID, questionID)

	r.mu.Lock()
	b := r.bufs[key]
	delete(r.bufs, key)
	r.mu.Unlock()
	if b == nil {
		return "", false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", false, nil
	}
	b.timer.Stop()
	b.closed = true
	if err := b.file.Sync(); err != nil {
		_ = b.file.Close()
		return "", true, fmt.Errorf("flush audio sink: %w", err)
	}
	if err := b.file.Close(); err != nil {
		return "", true, fmt.Errorf("close audio sink: %w", err)
	}
	slog.Info("finalized stream", "key", key, "path", b.relPath, "chunks", b.chunks)
	return b.relPath, true, nil
}

// expire runs on the idle timer. A chunk racing with the timer wins:
// the callback re-checks the last-chunk time under the buffer lock and
// re-arms instead of closing when activity slipped in.
func (r *Registry) expire(key string, b *buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if idle := time.Since(b.lastChunk); idle < r.idleTimeout {
		b.timer.Reset(r.idleTimeout - idle)
		return
	}

	r.mu.Lock()
	if r.bufs[key] == b {
		delete(r.bufs, key)
	}
	r.mu.Unlock()

	b.closed = true
	if err := b.file.Close(); err != nil {
		slog.Warn("close expired stream", "key", key, "error", err)
	}
	slog.Info("auto-closed idle stream", "key", key, "chunks", b.chunks)
}

// SaveBlob stores a complete pre-uploaded audio blob under the same
// naming scheme as streamed resources. This is the out-of-band answer
// submission path used when no stream was active.
func (r *Registry) SaveBlob(sessionID, questionID int64, data []byte) (string, error) {
	name := resourceName(sessionID, questionID)
	if err := os.WriteFile(filepath.Join(r.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write audio blob: %w", err)
	}
	return PublicPrefix + "/" + name, nil
}

// Active returns the number of open buffers, for observability.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bufs)
}

// Dir returns the directory resources are written to.
func (r *Registry) Dir() string {
	return r.dir
}
