package remote

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Finder runs a query against a backend.
type Finder func(ctx context.Context, q Query) ([]Document, error)

// WatchFunc is started with each observer and calls markDirty whenever the
// backend sees a change relevant to it. It must return when ctx is done.
type WatchFunc func(ctx context.Context, q Query, markDirty func())

// Feed drives observers for backends whose change notifications only say
// "collection X changed". Each observer owns a goroutine that re-runs its
// query when marked dirty; bursts of notifications coalesce into one firing.
type Feed struct {
	find Finder
	log  zerolog.Logger

	mu        sync.Mutex
	observers map[uint64]*feedObserver
	nextID    uint64

	ctx    context.Context
	cancel context.CancelFunc
}

type feedObserver struct {
	q     Query
	fn    ObserverFunc
	dirty chan struct{}
}

// NewFeed creates a Feed that queries through find.
func NewFeed(find Finder, log zerolog.Logger) *Feed {
	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		find:      find,
		log:       log,
		observers: make(map[uint64]*feedObserver),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register adds an observer and schedules its initial firing. watch may be nil.
func (f *Feed) Register(q Query, fn ObserverFunc, watch WatchFunc) Handle {
	ctx, cancel := context.WithCancel(f.ctx)
	o := &feedObserver{q: q, fn: fn, dirty: make(chan struct{}, 1)}

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.observers[id] = o
	f.mu.Unlock()

	if watch != nil {
		go watch(ctx, q, o.markDirty)
	}
	o.markDirty()
	go f.run(ctx, o)

	return NewHandle(func() {
		f.mu.Lock()
		delete(f.observers, id)
		f.mu.Unlock()
		cancel()
	})
}

// Notify marks every observer of collection dirty.
func (f *Feed) Notify(collection string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.observers {
		if o.q.Collection == collection {
			o.markDirty()
		}
	}
}

// NotifyAll marks every observer dirty, e.g. after a notification channel
// reconnect where changes may have been missed.
func (f *Feed) NotifyAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.observers {
		o.markDirty()
	}
}

// Len counts registered observers.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observers)
}

// Close stops all observers.
func (f *Feed) Close() {
	f.cancel()
	f.mu.Lock()
	f.observers = make(map[uint64]*feedObserver)
	f.mu.Unlock()
}

func (o *feedObserver) markDirty() {
	select {
	case o.dirty <- struct{}{}:
	default:
	}
}

func (f *Feed) run(ctx context.Context, o *feedObserver) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.dirty:
		}
		qctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		docs, err := f.find(qctx, o.q)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			f.log.Warn().Err(err).Str("collection", o.q.Collection).Msg("observer_query_failed")
			continue
		}
		o.fn(docs)
	}
}
