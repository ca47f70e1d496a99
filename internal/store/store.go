// Package store defines the collection-indexed persistent store the engine
// mirrors its state into, plus the sqlite, redis and in-memory backends.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrExists            = errors.New("key already exists")
	ErrCollectionMissing = errors.New("collection missing")
	ErrNotOpen           = errors.New("store not initialized")
)

type Collection string

const (
	Tasks    Collection = "tasks"
	Goals    Collection = "goals"
	Habits   Collection = "habits"
	Skills   Collection = "skills"
	Patterns Collection = "patterns"
	Settings Collection = "settings"
)

// Collections lists every collection in schema order.
var Collections = []Collection{Tasks, Goals, Habits, Skills, Patterns, Settings}

// AutoKey reports whether the store assigns keys for the collection.
func (c Collection) AutoKey() bool { return c == Patterns }

func (c Collection) valid() error {
	for _, known := range Collections {
		if c == known {
			return nil
		}
	}
	return fmt.Errorf("unknown collection %q", string(c))
}

// Record is one stored document and its key.
type Record struct {
	Key   string
	Value json.RawMessage
}

// Store is the durable mirror of the session state. Every call is an
// independent, atomic operation on one collection.
type Store interface {
	// Init is idempotent.
	Init(ctx context.Context) error
	Get(ctx context.Context, c Collection, key string) (json.RawMessage, error)
	// GetAll returns every record; order is backend specific.
	GetAll(ctx context.Context, c Collection) ([]Record, error)
	// Add fails with ErrExists when key is present. For AutoKey collections
	// the key argument is ignored and the assigned key is returned.
	Add(ctx context.Context, c Collection, key string, value json.RawMessage) (string, error)
	// Update inserts or replaces.
	Update(ctx context.Context, c Collection, key string, value json.RawMessage) error
	Delete(ctx context.Context, c Collection, key string) error
	Clear(ctx context.Context, c Collection) error
	// DeleteDatabase destroys all collections. Init must be called again
	// before further use.
	DeleteDatabase(ctx context.Context) error
	Close() error
}
