// Package pgstore implements remote.Adapter on PostgreSQL. Documents are kept
// as JSONB rows keyed by (collection, id); every write fires
// pg_notify('sync_changes', collection) and a pq.Listener re-runs the
// observers of that collection.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/query"
	"github.com/getditto/DittoChat-sub001/internal/remote"
)

const (
	notifyChannel = "sync_changes"
	pingInterval  = 90 * time.Second
)

// Store is a PostgreSQL-backed adapter.
type Store struct {
	db          *sql.DB
	dsn         string
	attachments remote.AttachmentStore
	log         zerolog.Logger

	feed     *remote.Feed
	listener *pq.Listener

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithAttachments replaces the default table-backed attachment store.
func WithAttachments(a remote.AttachmentStore) Option {
	return func(s *Store) { s.attachments = a }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates a Store on db. dsn is used to open the dedicated LISTEN
// connection in Start.
func New(db *sql.DB, dsn string, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:     db,
		dsn:    dsn,
		log:    zerolog.Nop(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "pgstore").Logger()
	s.feed = remote.NewFeed(s.Find, s.log)
	if s.attachments == nil {
		s.attachments = NewBlobStore(db, s.log)
	}
	return s
}

// Start opens the LISTEN connection and dispatches notifications to the
// observers. It is safe to call more than once.
func (s *Store) Start() error {
	var err error
	s.once.Do(func() {
		s.listener = pq.NewListener(s.dsn, 10*time.Second, time.Minute, s.listenerEvent)
		if err = s.listener.Listen(notifyChannel); err != nil {
			err = fmt.Errorf("listen %s: %w", notifyChannel, err)
			return
		}
		go s.runListener()
	})
	return err
}

// Close stops every observer and the listener.
func (s *Store) Close() {
	s.cancel()
	s.feed.Close()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.log.Warn().Err(err).Msg("listener_close_failed")
		}
	}
}

func (s *Store) listenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed:
		s.log.Warn().Err(err).Msg("listener_connect_failed")
	case pq.ListenerEventDisconnected:
		s.log.Warn().Err(err).Msg("listener_disconnected")
	case pq.ListenerEventReconnected:
		s.log.Info().Msg("listener_reconnected")
	}
}

func (s *Store) runListener() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case n := <-s.listener.Notify:
			// A nil notification follows a reconnect; anything may have changed.
			if n == nil {
				s.feed.NotifyAll()
				continue
			}
			s.feed.Notify(n.Extra)
		case <-time.After(pingInterval):
			go func() {
				if err := s.listener.Ping(); err != nil {
					s.log.Warn().Err(err).Msg("listener_ping_failed")
				}
			}()
		}
	}
}

// Find implements remote.Adapter. Filtering and ordering run in process on
// the decoded documents of the collection.
func (s *Store) Find(ctx context.Context, q remote.Query) ([]remote.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM documents WHERE collection = $1`, q.Collection)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", q.Collection, err)
	}
	defer rows.Close()

	docs := make([]remote.Document, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		var doc remote.Document
		if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", q.Collection, err)
		}
		if q.Match(doc) {
			docs = append(docs, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find in %s: %w", q.Collection, err)
	}

	sorts := q.Sort
	if len(sorts) == 0 {
		sorts = []query.Sort{query.Asc(remote.IDField)}
	}
	query.SortDocuments(docs, sorts)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

// Upsert implements remote.Adapter.
func (s *Store) Upsert(ctx context.Context, collection string, doc remote.Document) error {
	id, ok := remote.DocID(doc)
	if !ok {
		return remote.ErrMissingID
	}
	raw, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, doc, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (collection, id)
		DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		collection, id, string(raw))
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, id, err)
	}
	s.publishChange(ctx, collection)
	return nil
}

// Update implements remote.Adapter. Top-level fields are merged into the
// stored document with the jsonb || operator.
func (s *Store) Update(ctx context.Context, collection, id string, fields remote.Document) error {
	set := bson.M{}
	for k, v := range fields {
		if k != remote.IDField {
			set[k] = v
		}
	}
	raw, err := bson.MarshalExtJSON(set, false, false)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET doc = doc || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2`,
		collection, id, string(raw))
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return remote.ErrNotFound
	}
	s.publishChange(ctx, collection)
	return nil
}

func (s *Store) publishChange(ctx context.Context, collection string) {
	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, collection); err != nil {
		s.log.Warn().Err(err).Str("collection", collection).Msg("change_publish_failed")
	}
}

// RegisterSubscription implements remote.Adapter. Interest is reference
// counted per (collection, filter) in the sync_interest table.
func (s *Store) RegisterSubscription(q remote.Query) (remote.Handle, error) {
	filter := bson.M{}
	if q.Filter != nil {
		filter = q.Filter.BSON()
	}
	raw, err := bson.MarshalExtJSON(filter, true, false)
	if err != nil {
		return nil, fmt.Errorf("encode interest: %w", err)
	}
	member := string(raw)

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_interest (collection, filter) VALUES ($1, $2)
		ON CONFLICT (collection, filter)
		DO UPDATE SET refs = sync_interest.refs + 1`,
		q.Collection, member)
	if err != nil {
		return nil, fmt.Errorf("register interest: %w", err)
	}

	return remote.NewHandle(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.releaseInterest(ctx, q.Collection, member); err != nil {
			s.log.Warn().Err(err).Str("collection", q.Collection).Msg("interest_remove_failed")
		}
	}), nil
}

func (s *Store) releaseInterest(ctx context.Context, collection, member string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_interest SET refs = refs - 1
		WHERE collection = $1 AND filter = $2`, collection, member); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM sync_interest
		WHERE collection = $1 AND filter = $2 AND refs <= 0`, collection, member); err != nil {
		return err
	}
	return tx.Commit()
}

// RegisterObserver implements remote.Adapter.
func (s *Store) RegisterObserver(q remote.Query, fn remote.ObserverFunc) (remote.Handle, error) {
	if s.ctx.Err() != nil {
		return nil, remote.ErrClosed
	}
	return s.feed.Register(q, fn, nil), nil
}

// NewAttachment implements remote.Adapter.
func (s *Store) NewAttachment(ctx context.Context, data []byte, metadata map[string]string) (models.AttachmentToken, error) {
	return s.attachments.NewAttachment(ctx, data, metadata)
}

// FetchAttachment implements remote.Adapter.
func (s *Store) FetchAttachment(token models.AttachmentToken, fn func(remote.FetchEvent)) (remote.Handle, error) {
	return s.attachments.FetchAttachment(token, fn)
}
