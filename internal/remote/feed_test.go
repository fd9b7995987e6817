package remote

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestFeedInitialFiringAndNotify(t *testing.T) {
	var finds atomic.Int32
	f := NewFeed(func(context.Context, Query) ([]Document, error) {
		n := finds.Add(1)
		return []Document{{IDField: "d", "n": n}}, nil
	}, zerolog.Nop())
	defer f.Close()

	fired := make(chan []Document, 8)
	h := f.Register(Query{Collection: "messages"}, func(docs []Document) { fired <- docs }, nil)
	require.Equal(t, 1, f.Len())

	select {
	case docs := <-fired:
		require.Len(t, docs, 1)
	case <-time.After(time.Second):
		t.Fatal("no initial firing")
	}

	f.Notify("rooms")
	f.Notify("messages")
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("no firing after notify")
	}

	h.Cancel()
	assert.Equal(t, 0, f.Len())
}

func TestFeedCoalescesBursts(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	var finds atomic.Int32
	f := NewFeed(func(context.Context, Query) ([]Document, error) {
		if finds.Add(1) == 1 {
			close(started)
			<-gate
		}
		return nil, nil
	}, zerolog.Nop())
	defer f.Close()

	var mu sync.Mutex
	firings := 0
	f.Register(Query{Collection: "messages"}, func([]Document) {
		mu.Lock()
		firings++
		mu.Unlock()
	}, nil)

	<-started
	// The first query is blocked; every notification below lands on the
	// same dirty flag.
	for i := 0; i < 50; i++ {
		f.Notify("messages")
	}
	close(gate)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firings == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), finds.Load())
}

func TestFeedWatchMarksDirty(t *testing.T) {
	f := NewFeed(func(context.Context, Query) ([]Document, error) { return nil, nil }, zerolog.Nop())
	defer f.Close()

	poke := make(chan func(), 1)
	fired := make(chan struct{}, 8)
	h := f.Register(Query{Collection: "users"}, func([]Document) { fired <- struct{}{} },
		func(ctx context.Context, _ Query, markDirty func()) {
			poke <- markDirty
			<-ctx.Done()
		})
	<-fired

	markDirty := <-poke
	markDirty()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watch did not trigger a firing")
	}
	h.Cancel()
}

func TestCancelIfActive(t *testing.T) {
	releases := 0
	h := NewHandle(func() { releases++ })

	assert.False(t, CancelIfActive(nil))
	assert.True(t, CancelIfActive(h))
	assert.False(t, CancelIfActive(h))
	h.Cancel()
	assert.Equal(t, 1, releases)
	assert.True(t, h.IsCancelled())
}

func TestDocID(t *testing.T) {
	oid := primitive.NewObjectID()

	id, ok := DocID(Document{IDField: "m1"})
	assert.True(t, ok)
	assert.Equal(t, "m1", id)

	id, ok = DocID(Document{IDField: oid})
	assert.True(t, ok)
	assert.Equal(t, oid.Hex(), id)

	_, ok = DocID(Document{IDField: ""})
	assert.False(t, ok)
	_, ok = DocID(Document{"name": "x"})
	assert.False(t, ok)
}

func TestEncodeDecode(t *testing.T) {
	type row struct {
		ID   string   `bson:"_id"`
		Tags []string `bson:"tags"`
	}
	doc, err := Encode(row{ID: "r1", Tags: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, "r1", doc[IDField])

	var out row
	require.NoError(t, Decode(doc, &out))
	assert.Equal(t, []string{"a"}, out.Tags)
}
