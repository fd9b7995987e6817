// Package memstore is an in-process remote.Adapter. It backs tests and the
// offline "memory" backend of the server.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/query"
	"github.com/getditto/DittoChat-sub001/internal/remote"
)

const chunkSize = 64 * 1024

type observer struct {
	q  remote.Query
	fn remote.ObserverFunc
}

type attachment struct {
	data     []byte
	metadata map[string]string
}

// Store keeps collections in memory. Observer callbacks are delivered in
// order on the goroutine that triggered them; writes issued from inside a
// callback are queued and delivered after the current callback returns.
type Store struct {
	mu            sync.Mutex
	collections   map[string]map[string]remote.Document
	observers     map[uint64]*observer
	subscriptions map[uint64]remote.Query
	attachments   map[string]attachment
	nextID        uint64

	queue    []uint64
	draining bool

	writeErr error
	closed   bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		collections:   make(map[string]map[string]remote.Document),
		observers:     make(map[uint64]*observer),
		subscriptions: make(map[uint64]remote.Query),
		attachments:   make(map[string]attachment),
	}
}

// FailWrites makes every Upsert and Update return err until called with nil.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// Close cancels all registrations; later calls fail with remote.ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.observers = make(map[uint64]*observer)
	s.subscriptions = make(map[uint64]remote.Query)
	s.mu.Unlock()
}

// Find implements remote.Adapter.
func (s *Store) Find(_ context.Context, q remote.Query) ([]remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, remote.ErrClosed
	}
	return s.resultLocked(q)
}

// Upsert implements remote.Adapter.
func (s *Store) Upsert(_ context.Context, collection string, doc remote.Document) error {
	id, ok := remote.DocID(doc)
	if !ok {
		return remote.ErrMissingID
	}
	cp, err := remote.Copy(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	col := s.collectionLocked(collection)
	col[id] = cp
	s.enqueueLocked(collection)
	s.mu.Unlock()

	s.drain()
	return nil
}

// Update implements remote.Adapter.
func (s *Store) Update(_ context.Context, collection, id string, fields remote.Document) error {
	patch, err := remote.Copy(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	existing, ok := s.collectionLocked(collection)[id]
	if !ok {
		s.mu.Unlock()
		return remote.ErrNotFound
	}
	for k, v := range patch {
		if k == remote.IDField {
			continue
		}
		existing[k] = v
	}
	s.enqueueLocked(collection)
	s.mu.Unlock()

	s.drain()
	return nil
}

// RegisterSubscription implements remote.Adapter.
func (s *Store) RegisterSubscription(q remote.Query) (remote.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, remote.ErrClosed
	}
	s.nextID++
	id := s.nextID
	s.subscriptions[id] = q
	return remote.NewHandle(func() {
		s.mu.Lock()
		delete(s.subscriptions, id)
		s.mu.Unlock()
	}), nil
}

// RegisterObserver implements remote.Adapter. The initial result is delivered
// before RegisterObserver returns unless another delivery is in progress.
func (s *Store) RegisterObserver(q remote.Query, fn remote.ObserverFunc) (remote.Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, remote.ErrClosed
	}
	s.nextID++
	id := s.nextID
	s.observers[id] = &observer{q: q, fn: fn}
	s.queue = append(s.queue, id)
	s.mu.Unlock()

	h := remote.NewHandle(func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	})
	s.drain()
	return h, nil
}

// ActiveSubscriptions counts live subscriptions.
func (s *Store) ActiveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscriptions)
}

// ActiveObservers counts live observers.
func (s *Store) ActiveObservers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// Documents returns a copy of every document in collection.
func (s *Store) Documents(collection string) []remote.Document {
	docs, _ := s.Find(context.Background(), remote.Query{Collection: collection})
	return docs
}

func (s *Store) writableLocked() error {
	if s.closed {
		return remote.ErrClosed
	}
	return s.writeErr
}

func (s *Store) collectionLocked(name string) map[string]remote.Document {
	col, ok := s.collections[name]
	if !ok {
		col = make(map[string]remote.Document)
		s.collections[name] = col
	}
	return col
}

func (s *Store) resultLocked(q remote.Query) ([]remote.Document, error) {
	out := make([]remote.Document, 0)
	for _, doc := range s.collections[q.Collection] {
		if !q.Match(doc) {
			continue
		}
		cp, err := remote.Copy(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sorts := q.Sort
	if len(sorts) == 0 {
		sorts = []query.Sort{query.Asc(remote.IDField)}
	}
	query.SortDocuments(out, sorts)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) enqueueLocked(collection string) {
	for id, obs := range s.observers {
		if obs.q.Collection == collection {
			s.queue = append(s.queue, id)
		}
	}
}

// drain delivers queued observer firings. Only one goroutine drains at a time;
// others just leave their firings in the queue.
func (s *Store) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]
		obs, ok := s.observers[id]
		if !ok {
			continue
		}
		docs, err := s.resultLocked(obs.q)
		if err != nil {
			continue
		}
		s.mu.Unlock()
		obs.fn(docs)
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

// NewAttachment implements remote.Adapter.
func (s *Store) NewAttachment(_ context.Context, data []byte, metadata map[string]string) (models.AttachmentToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.AttachmentToken{}, remote.ErrClosed
	}
	id := uuid.NewString()
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	s.attachments[id] = attachment{data: append([]byte(nil), data...), metadata: meta}
	return models.AttachmentToken{ID: id, Len: int64(len(data)), Metadata: meta}, nil
}

// DeleteAttachment removes stored attachment data, as a peer eviction would.
func (s *Store) DeleteAttachment(id string) {
	s.mu.Lock()
	delete(s.attachments, id)
	s.mu.Unlock()
}

// FetchAttachment implements remote.Adapter. Events are delivered from a
// separate goroutine.
func (s *Store) FetchAttachment(token models.AttachmentToken, fn func(remote.FetchEvent)) (remote.Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, remote.ErrClosed
	}
	att, ok := s.attachments[token.ID]
	s.mu.Unlock()

	h := remote.NewHandle(nil)
	go func() {
		if !ok {
			fn(remote.FetchEvent{Kind: remote.FetchDeleted})
			return
		}
		total := int64(len(att.data))
		for sent := int64(0); sent < total; {
			if h.IsCancelled() {
				return
			}
			sent += chunkSize
			if sent > total {
				sent = total
			}
			fn(remote.FetchEvent{Kind: remote.FetchProgress, Downloaded: sent, Total: total})
		}
		if h.IsCancelled() {
			return
		}
		fn(remote.FetchEvent{
			Kind:     remote.FetchCompleted,
			Data:     append([]byte(nil), att.data...),
			Metadata: att.metadata,
			Total:    total,
		})
	}()
	return h, nil
}
