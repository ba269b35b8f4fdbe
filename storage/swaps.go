package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"chainswap/swap"
)

var bucketSwaps = []byte("swaps")

// BoltStore persists swap records as JSON documents in a BoltDB bucket. A
// keyed mutex serializes Update calls per swap identifier, which is the
// store contract the step executor depends on.
type BoltStore struct {
	db    *bolt.DB
	locks keyedLocks
	nowFn func() int64
}

// OpenBolt initialises (and migrates) the BoltDB-backed swap store.
func OpenBolt(path string, options *bolt.Options) (*BoltStore, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("open swap store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSwaps)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate swap store: %w", err)
	}
	return &BoltStore{db: db, nowFn: func() int64 { return time.Now().Unix() }}, nil
}

// Close releases the underlying database.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetNowFunc overrides the time source used by the deletion guard.
func (s *BoltStore) SetNowFunc(now func() int64) {
	if now != nil {
		s.nowFn = now
	}
}

func (s *BoltStore) Create(ctx context.Context, record *swap.Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("storage: record with identifier required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("storage: encode swap: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSwaps)
		if bucket.Get([]byte(record.ID)) != nil {
			return fmt.Errorf("storage: swap %s already exists", record.ID)
		}
		return bucket.Put([]byte(record.ID), payload)
	})
}

func (s *BoltStore) Get(ctx context.Context, id string) (*swap.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var record *swap.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		payload := tx.Bucket(bucketSwaps).Get([]byte(id))
		if payload == nil {
			return swap.ErrNotFound
		}
		record = new(swap.Record)
		return json.Unmarshal(payload, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Update runs fn on the stored record under the record's lock and persists
// the mutation when fn returns nil. The lock is held across fn so chain
// calls made inside it stay serialized per swap.
func (s *BoltStore) Update(ctx context.Context, id string, fn func(*swap.Record) error) (*swap.Record, error) {
	if fn == nil {
		return nil, fmt.Errorf("storage: update func required")
	}
	unlock := s.locks.lock(id)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(record); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("storage: encode swap: %w", err)
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSwaps).Put([]byte(id), payload)
	}); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

func (s *BoltStore) List(ctx context.Context) ([]*swap.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []*swap.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSwaps).ForEach(func(_, payload []byte) error {
			record := new(swap.Record)
			if err := json.Unmarshal(payload, record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Delete removes a record. Non-terminal records are retained until their
// refund timelock elapses so a late refund stays possible.
func (s *BoltStore) Delete(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !record.Status.Terminal() && s.nowFn() < record.RefundTimelock {
		return fmt.Errorf("storage: swap %s retained until refund timelock %d", id, record.RefundTimelock)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSwaps).Delete([]byte(id))
	})
}

// keyedLocks hands out one mutex per swap identifier.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	entry, ok := k.locks[id]
	if !ok {
		entry = new(sync.Mutex)
		k.locks[id] = entry
	}
	k.mu.Unlock()
	entry.Lock()
	return entry.Unlock
}

// Memory is an in-memory swap store with the same locking contract as the
// Bolt store, used for tests and endpoint-less development runs.
type Memory struct {
	mu      sync.Mutex
	records map[string]*swap.Record
	locks   keyedLocks
	nowFn   func() int64
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*swap.Record),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source used by the deletion guard.
func (m *Memory) SetNowFunc(now func() int64) {
	if now != nil {
		m.nowFn = now
	}
}

func (m *Memory) Create(ctx context.Context, record *swap.Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("storage: record with identifier required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.ID]; ok {
		return fmt.Errorf("storage: swap %s already exists", record.ID)
	}
	m.records[record.ID] = record.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*swap.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, swap.ErrNotFound
	}
	return record.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, id string, fn func(*swap.Record) error) (*swap.Record, error) {
	if fn == nil {
		return nil, fmt.Errorf("storage: update func required")
	}
	unlock := m.locks.lock(id)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(record); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.records[id] = record.Clone()
	m.mu.Unlock()
	return record.Clone(), nil
}

func (m *Memory) List(ctx context.Context) ([]*swap.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]*swap.Record, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, record.Clone())
	}
	return records, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	unlock := m.locks.lock(id)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return swap.ErrNotFound
	}
	if !record.Status.Terminal() && m.nowFn() < record.RefundTimelock {
		return fmt.Errorf("storage: swap %s retained until refund timelock %d", id, record.RefundTimelock)
	}
	delete(m.records, id)
	return nil
}
