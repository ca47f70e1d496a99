package store

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
)

type memCollection struct {
	keys []string
	docs map[string]json.RawMessage
}

// Memory keeps collections in process. Collections passed to NewMemory as
// missing behave like tables that were never migrated.
type Memory struct {
	mu      sync.Mutex
	open    bool
	seq     int64
	cols    map[Collection]*memCollection
	missing map[Collection]bool
}

func NewMemory(missing ...Collection) *Memory {
	m := &Memory{missing: map[Collection]bool{}}
	for _, c := range missing {
		m.missing[c] = true
	}
	return m
}

func (m *Memory) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return nil
	}
	m.cols = map[Collection]*memCollection{}
	for _, c := range Collections {
		if m.missing[c] {
			continue
		}
		m.cols[c] = &memCollection{docs: map[string]json.RawMessage{}}
	}
	m.open = true
	return nil
}

func (m *Memory) collection(c Collection) (*memCollection, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if !m.open {
		return nil, ErrNotOpen
	}
	col, ok := m.cols[c]
	if !ok {
		return nil, ErrCollectionMissing
	}
	return col, nil
}

func (m *Memory) Get(ctx context.Context, c Collection, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, err := m.collection(c)
	if err != nil {
		return nil, err
	}
	doc, ok := col.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(doc), nil
}

func (m *Memory) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, err := m.collection(c)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(col.keys))
	for _, k := range col.keys {
		out = append(out, Record{Key: k, Value: clone(col.docs[k])})
	}
	return out, nil
}

func (m *Memory) Add(ctx context.Context, c Collection, key string, value json.RawMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, err := m.collection(c)
	if err != nil {
		return "", err
	}
	if c.AutoKey() {
		m.seq++
		key = strconv.FormatInt(m.seq, 10)
	}
	if _, ok := col.docs[key]; ok {
		return "", ErrExists
	}
	col.keys = append(col.keys, key)
	col.docs[key] = clone(value)
	return key, nil
}

func (m *Memory) Update(ctx context.Context, c Collection, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, err := m.collection(c)
	if err != nil {
		return err
	}
	if _, ok := col.docs[key]; !ok {
		col.keys = append(col.keys, key)
	}
	col.docs[key] = clone(value)
	return nil
}

func (m *Memory) Delete(ctx context.Context, c Collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, err := m.collection(c)
	if err != nil {
		return err
	}
	if _, ok := col.docs[key]; !ok {
		return nil
	}
	delete(col.docs, key)
	for i, k := range col.keys {
		if k == key {
			col.keys = append(col.keys[:i], col.keys[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Clear(ctx context.Context, c Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, err := m.collection(c)
	if err != nil {
		return err
	}
	col.keys = nil
	col.docs = map[string]json.RawMessage{}
	return nil
}

func (m *Memory) DeleteDatabase(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cols = nil
	m.seq = 0
	m.open = false
	m.missing = map[Collection]bool{}
	return nil
}

func (m *Memory) Close() error { return nil }

func clone(in json.RawMessage) json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(json.RawMessage, len(in))
	copy(out, in)
	return out
}
