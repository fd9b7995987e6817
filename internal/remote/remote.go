// Package remote defines the boundary with the replicated document store the
// chat replica is synchronized against. Backends live in sub-packages.
package remote

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/query"
)

// Document is a schemaless store document. The identity lives under "_id".
type Document = bson.M

// IDField is the identity field of every document.
const IDField = "_id"

var (
	// ErrNotFound is returned by Update when no document has the given id.
	ErrNotFound = errors.New("remote: document not found")
	// ErrMissingID is returned when a document has no usable identity.
	ErrMissingID = errors.New("remote: document has no _id")
	// ErrClosed is returned after the adapter has been closed.
	ErrClosed = errors.New("remote: adapter closed")
)

// Query selects documents from one collection.
type Query struct {
	Collection string
	Filter     query.Filter
	Sort       []query.Sort
	Limit      int
}

// Where returns a copy of q with the given filter.
func (q Query) Where(f query.Filter) Query {
	q.Filter = f
	return q
}

// Match evaluates the query filter, treating a nil filter as match-all.
func (q Query) Match(doc Document) bool {
	if q.Filter == nil {
		return true
	}
	return q.Filter.Match(doc)
}

// ObserverFunc receives the full result set of an observed query each time it
// changes.
type ObserverFunc func(docs []Document)

// Handle is returned for every standing registration.
type Handle interface {
	Cancel()
	IsCancelled() bool
}

// FetchEventKind discriminates FetchEvent.
type FetchEventKind int

const (
	FetchProgress FetchEventKind = iota
	FetchCompleted
	FetchDeleted
	FetchFailed
)

// FetchEvent reports attachment download progress and outcome.
type FetchEvent struct {
	Kind       FetchEventKind
	Downloaded int64
	Total      int64
	Data       []byte
	Metadata   map[string]string
	Err        error
}

// Adapter is the capability the engine consumes. Implementations must be safe
// for concurrent use; observer callbacks may run on any goroutine but are
// delivered in order per observer.
type Adapter interface {
	// Find executes q and returns matching documents.
	Find(ctx context.Context, q Query) ([]Document, error)
	// Upsert inserts doc, replacing any existing document with the same _id.
	Upsert(ctx context.Context, collection string, doc Document) error
	// Update sets fields on the document with the given id.
	Update(ctx context.Context, collection, id string, fields Document) error
	// RegisterSubscription declares durable interest in q.
	RegisterSubscription(q Query) (Handle, error)
	// RegisterObserver invokes fn with the current result of q and again on
	// every change to it.
	RegisterObserver(q Query, fn ObserverFunc) (Handle, error)
	// NewAttachment stores data and returns a token referencing it.
	NewAttachment(ctx context.Context, data []byte, metadata map[string]string) (models.AttachmentToken, error)
	// FetchAttachment streams the attachment behind token to fn.
	FetchAttachment(token models.AttachmentToken, fn func(FetchEvent)) (Handle, error)
}
