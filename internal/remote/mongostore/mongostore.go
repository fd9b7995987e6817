// Package mongostore implements remote.Adapter on MongoDB. Writes publish a
// change notification on Redis (channel sync:changes:<collection>) and every
// observer re-runs its query when one arrives. Without Redis, observers fall
// back to MongoDB change streams.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/query"
	"github.com/getditto/DittoChat-sub001/internal/remote"
)

const (
	changeChannelPrefix = "sync:changes:"
	interestKeyPrefix   = "sync:interest:refs:"
	interestCollection  = "sync_interest"
	maxBackoff          = 30 * time.Second
)

// Store is a MongoDB-backed adapter.
type Store struct {
	db          *mongo.Database
	rdb         *redis.Client
	attachments remote.AttachmentStore
	log         zerolog.Logger

	feed *remote.Feed

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithAttachments replaces the default GridFS attachment store.
func WithAttachments(a remote.AttachmentStore) Option {
	return func(s *Store) { s.attachments = a }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates a Store on db. rdb may be nil.
func New(db *mongo.Database, rdb *redis.Client, opts ...Option) (*Store, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:     db,
		rdb:    rdb,
		log:    zerolog.Nop(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "mongostore").Logger()
	s.feed = remote.NewFeed(s.Find, s.log)
	if s.attachments == nil {
		fs, err := NewGridFS(db, s.log)
		if err != nil {
			cancel()
			return nil, err
		}
		s.attachments = fs
	}
	return s, nil
}

// EnsureIndexes creates the (roomId, createdOn) indexes used by room feeds.
// Called on startup from main after Mongo has connected.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, name := range []string{models.MessagesCollection, models.DMMessagesCollection} {
		model := mongo.IndexModel{
			Keys: bson.D{
				{Key: "roomId", Value: 1},
				{Key: "createdOn", Value: 1},
			},
			Options: options.Index().SetName("idx_room_created"),
		}
		if _, err := s.db.Collection(name).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("ensure index on %s: %w", name, err)
		}
	}
	return nil
}

// Start launches the shared Redis change listener. It is a no-op without Redis.
func (s *Store) Start() {
	if s.rdb == nil {
		return
	}
	s.once.Do(func() {
		go s.runChangeSubscriber()
	})
}

// Close stops every observer and the change listener.
func (s *Store) Close() {
	s.cancel()
	s.feed.Close()
}

// Find implements remote.Adapter.
func (s *Store) Find(ctx context.Context, q remote.Query) ([]remote.Document, error) {
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(query.SortBSON(q.Sort))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	filter := bson.M{}
	if q.Filter != nil {
		filter = q.Filter.BSON()
	}

	cur, err := s.db.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", q.Collection, err)
	}
	defer cur.Close(ctx)

	docs := make([]remote.Document, 0)
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", q.Collection, err)
	}
	return docs, nil
}

// Upsert implements remote.Adapter.
func (s *Store) Upsert(ctx context.Context, collection string, doc remote.Document) error {
	id, ok := remote.DocID(doc)
	if !ok {
		return remote.ErrMissingID
	}
	_, err := s.db.Collection(collection).ReplaceOne(ctx,
		bson.M{remote.IDField: id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, id, err)
	}
	s.publishChange(ctx, collection, id)
	return nil
}

// Update implements remote.Adapter.
func (s *Store) Update(ctx context.Context, collection, id string, fields remote.Document) error {
	set := bson.M{}
	for k, v := range fields {
		if k != remote.IDField {
			set[k] = v
		}
	}
	res, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.M{remote.IDField: id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return remote.ErrNotFound
	}
	s.publishChange(ctx, collection, id)
	return nil
}

// NewAttachment implements remote.Adapter.
func (s *Store) NewAttachment(ctx context.Context, data []byte, metadata map[string]string) (models.AttachmentToken, error) {
	return s.attachments.NewAttachment(ctx, data, metadata)
}

// FetchAttachment implements remote.Adapter.
func (s *Store) FetchAttachment(token models.AttachmentToken, fn func(remote.FetchEvent)) (remote.Handle, error) {
	return s.attachments.FetchAttachment(token, fn)
}

func (s *Store) publishChange(ctx context.Context, collection, id string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Publish(ctx, changeChannelPrefix+collection, id).Err(); err != nil {
		s.log.Warn().Err(err).Str("collection", collection).Msg("change_publish_failed")
	}
}

// releaseInterestScript drops one reference to a filter and removes the
// field once nothing holds it.
var releaseInterestScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return n
`)

// RegisterSubscription implements remote.Adapter. Interest is reference
// counted per filter in a Redis hash per collection, or in the sync_interest
// collection without Redis.
func (s *Store) RegisterSubscription(q remote.Query) (remote.Handle, error) {
	member, err := interestMember(q)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	if s.rdb != nil {
		key := interestKeyPrefix + q.Collection
		if err := s.rdb.HIncrBy(ctx, key, member, 1).Err(); err != nil {
			return nil, fmt.Errorf("register interest: %w", err)
		}
		return remote.NewHandle(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseInterestScript.Run(ctx, s.rdb, []string{key}, member).Err(); err != nil {
				s.log.Warn().Err(err).Str("collection", q.Collection).Msg("interest_remove_failed")
			}
		}), nil
	}

	col := s.db.Collection(interestCollection)
	id := q.Collection + ":" + member
	_, err = col.UpdateOne(ctx, bson.M{remote.IDField: id},
		bson.M{
			"$inc":         bson.M{"refs": 1},
			"$setOnInsert": bson.M{"collection": q.Collection, "filter": member},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return nil, fmt.Errorf("register interest: %w", err)
	}
	return remote.NewHandle(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseInterest(ctx, col, id); err != nil {
			s.log.Warn().Err(err).Str("collection", q.Collection).Msg("interest_remove_failed")
		}
	}), nil
}

func releaseInterest(ctx context.Context, col *mongo.Collection, id string) error {
	if _, err := col.UpdateOne(ctx, bson.M{remote.IDField: id}, bson.M{"$inc": bson.M{"refs": -1}}); err != nil {
		return err
	}
	_, err := col.DeleteOne(ctx, bson.M{remote.IDField: id, "refs": bson.M{"$lte": 0}})
	return err
}

func interestMember(q remote.Query) (string, error) {
	filter := bson.M{}
	if q.Filter != nil {
		filter = q.Filter.BSON()
	}
	raw, err := bson.MarshalExtJSON(filter, true, false)
	if err != nil {
		return "", fmt.Errorf("encode interest: %w", err)
	}
	return string(raw), nil
}

// RegisterObserver implements remote.Adapter. Each observer runs on its own
// goroutine so firings for one query never interleave.
func (s *Store) RegisterObserver(q remote.Query, fn remote.ObserverFunc) (remote.Handle, error) {
	var watch remote.WatchFunc
	if s.rdb == nil {
		watch = s.watchCollection
	}
	return s.feed.Register(q, fn, watch), nil
}

// runChangeSubscriber ensures a single shared Redis listener per store.
func (s *Store) runChangeSubscriber() {
	backoff := time.Second

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		func() {
			pubsub := s.rdb.PSubscribe(s.ctx, changeChannelPrefix+"*")
			defer pubsub.Close()

			s.log.Info().Msg("change_subscriber_started")
			// Changes published while disconnected were missed.
			s.feed.NotifyAll()

			for {
				msg, err := pubsub.ReceiveMessage(s.ctx)
				if err != nil {
					if s.ctx.Err() != nil {
						return
					}
					s.log.Warn().Err(err).Dur("backoff", backoff).Msg("change_subscriber_error")
					time.Sleep(backoff)
					backoff *= 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
					return
				}

				backoff = time.Second
				s.feed.Notify(strings.TrimPrefix(msg.Channel, changeChannelPrefix))
			}
		}()
	}
}

// watchCollection marks an observer dirty on every change-stream event for
// its collection. Change streams require a replica set.
func (s *Store) watchCollection(ctx context.Context, q remote.Query, markDirty func()) {
	cs, err := s.db.Collection(q.Collection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Str("collection", q.Collection).Msg("change_stream_open_failed")
		}
		return
	}
	defer cs.Close(context.Background())
	for cs.Next(ctx) {
		markDirty()
	}
	if err := cs.Err(); err != nil && ctx.Err() == nil {
		s.log.Warn().Err(err).Str("collection", q.Collection).Msg("change_stream_closed")
	}
}
