package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getditto/DittoChat-sub001/internal/query"
	"github.com/getditto/DittoChat-sub001/internal/remote"
)

func TestObserverSeesInitialResultSynchronously(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "rooms", remote.Document{remote.IDField: "r1"}))

	var got []remote.Document
	h, err := s.RegisterObserver(remote.Query{Collection: "rooms"}, func(docs []remote.Document) { got = docs })
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, s.Upsert(ctx, "rooms", remote.Document{remote.IDField: "r2"}))
	assert.Len(t, got, 2)

	h.Cancel()
	require.NoError(t, s.Upsert(ctx, "rooms", remote.Document{remote.IDField: "r3"}))
	assert.Len(t, got, 2)
	assert.Equal(t, 0, s.ActiveObservers())
}

func TestWritesFromObserverAreQueued(t *testing.T) {
	s := New()
	ctx := context.Background()
	var seen []int

	_, err := s.RegisterObserver(remote.Query{Collection: "c"}, func(docs []remote.Document) {
		seen = append(seen, len(docs))
		if len(docs) == 1 {
			require.NoError(t, s.Upsert(ctx, "c", remote.Document{remote.IDField: "b"}))
			// The nested firing has not run yet.
			assert.Equal(t, []int{0, 1}, seen)
		}
	})
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "c", remote.Document{remote.IDField: "a"}))
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestFindFiltersSortsAndLimits(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, d := range []remote.Document{
		{remote.IDField: "m1", "roomId": "r1", "createdOn": "2024-05-03"},
		{remote.IDField: "m2", "roomId": "r1", "createdOn": "2024-05-01"},
		{remote.IDField: "m3", "roomId": "r2", "createdOn": "2024-05-02"},
	} {
		require.NoError(t, s.Upsert(ctx, "messages", d))
	}

	docs, err := s.Find(ctx, remote.Query{
		Collection: "messages",
		Filter:     query.Eq("roomId", "r1"),
		Sort:       []query.Sort{query.Asc("createdOn")},
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "m2", docs[0][remote.IDField])

	docs[0]["roomId"] = "mutated"
	again, err := s.Find(ctx, remote.Query{Collection: "messages", Filter: query.Eq(remote.IDField, "m2")})
	require.NoError(t, err)
	assert.Equal(t, "r1", again[0]["roomId"])
}

func TestUpdateAndFailures(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "c", remote.Document{remote.IDField: "a", "n": 1}))

	require.NoError(t, s.Update(ctx, "c", "a", remote.Document{"n": 2, remote.IDField: "ignored"}))
	docs := s.Documents("c")
	require.Len(t, docs, 1)
	assert.EqualValues(t, 2, docs[0]["n"])
	assert.Equal(t, "a", docs[0][remote.IDField])

	assert.ErrorIs(t, s.Update(ctx, "c", "missing", remote.Document{"n": 3}), remote.ErrNotFound)
	assert.ErrorIs(t, s.Upsert(ctx, "c", remote.Document{"n": 3}), remote.ErrMissingID)

	boom := errors.New("boom")
	s.FailWrites(boom)
	assert.ErrorIs(t, s.Upsert(ctx, "c", remote.Document{remote.IDField: "b"}), boom)
	s.FailWrites(nil)

	s.Close()
	_, err := s.RegisterSubscription(remote.Query{Collection: "c"})
	assert.ErrorIs(t, err, remote.ErrClosed)
}

func TestAttachmentsRoundTrip(t *testing.T) {
	s := New()
	data := make([]byte, 3*chunkSize+10)
	token, err := s.NewAttachment(context.Background(), data, map[string]string{"role": "file"})
	require.NoError(t, err)
	assert.EqualValues(t, len(data), token.Len)

	events := make(chan remote.FetchEvent, 16)
	_, err = s.FetchAttachment(token, func(ev remote.FetchEvent) { events <- ev })
	require.NoError(t, err)

	progress := 0
	for ev := range events {
		if ev.Kind == remote.FetchProgress {
			progress++
			continue
		}
		require.Equal(t, remote.FetchCompleted, ev.Kind)
		assert.Equal(t, data, ev.Data)
		assert.Equal(t, "file", ev.Metadata["role"])
		break
	}
	assert.Equal(t, 4, progress)
}
