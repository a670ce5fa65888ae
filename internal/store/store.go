// Package store provides the persistent key-value stores that back tracker state.
//
// Each tracker persists its whole map under a single store name
// (e.g. "unread-orders"). Payloads are wrapped in an Envelope that records
// the format version, the writing process and the save time.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the envelope format version written by this build.
const CurrentVersion = 1

var (
	// ErrNotFound is returned by Load when nothing is stored under a name.
	ErrNotFound = errors.New("store: not found")
	// ErrUnsupportedVersion is returned when an envelope was written by a newer build.
	ErrUnsupportedVersion = errors.New("store: unsupported envelope version")
	// ErrUnknownBackend is returned by Open for an unrecognized backend name.
	ErrUnknownBackend = errors.New("store: unknown backend")
)

// Store persists opaque payloads by name.
type Store interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
	Close() error
}

// Envelope wraps a persisted payload.
type Envelope struct {
	Version int             `json:"version"`
	Writer  string          `json:"writer"`
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// Codec encodes and decodes envelopes on behalf of one process.
type Codec struct {
	writer string
	now    func() time.Time
}

// NewCodec returns a Codec with a fresh writer id.
func NewCodec() *Codec {
	return &Codec{writer: uuid.NewString(), now: time.Now}
}

// Writer returns the id stamped on envelopes written by this codec.
func (c *Codec) Writer() string {
	return c.writer
}

// Encode marshals v and wraps it in an envelope.
func (c *Codec) Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(Envelope{
		Version: CurrentVersion,
		Writer:  c.writer,
		SavedAt: c.now().UTC(),
		Data:    raw,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode unwraps an envelope into dst and returns the envelope metadata.
func (c *Codec) Decode(data []byte, dst any) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Version > CurrentVersion {
		return env, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if len(env.Data) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return env, fmt.Errorf("parse payload: %w", err)
	}
	return env, nil
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Dir         string // file backend
	RedisURL    string // redis backend
	RedisPrefix string
	SQLitePath  string // sqlite backend
}

// Open builds the store named by opts.Backend. An empty backend means file.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		dir := opts.Dir
		if dir == "" {
			d, err := DefaultDir()
			if err != nil {
				return nil, err
			}
			dir = d
		}
		return NewFileStore(dir), nil
	case BackendRedis:
		s, err := NewRedisStore(opts.RedisURL, opts.RedisPrefix)
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		return NewSQLiteStore(opts.SQLitePath)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
