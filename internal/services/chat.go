// Package services is the chat replica engine: it keeps the local state in
// sync with the remote store and applies user mutations to both.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/getditto/DittoChat-sub001/internal/metrics"
	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/query"
	"github.com/getditto/DittoChat-sub001/internal/remote"
	"github.com/getditto/DittoChat-sub001/internal/state"
	"github.com/getditto/DittoChat-sub001/pkg/utils"
)

// DefaultConsistencyCheckDelay is how long after a reaction write the local
// copy is compared with the stored document.
const DefaultConsistencyCheckDelay = 5 * time.Second

// Session handle names.
const (
	handleCurrentUser    = "current_user"
	handleCurrentUserSub = "current_user_sub"
	handleUsers          = "users"
	handleUsersSub       = "users_sub"
	handleRooms          = "rooms"
	handleRoomsSub       = "rooms_sub"
	handleDMRooms        = "dm_rooms"
	handleDMRoomsSub     = "dm_rooms_sub"
)

// Options configures an engine.
type Options struct {
	// Store is the remote adapter. A nil Store leaves the engine
	// uninitialized: entry points log and do nothing.
	Store remote.Adapter
	// UserID identifies the signed-in user.
	UserID string
	// UserName seeds the user document on Start when none exists.
	UserName string
	// Retention is the global retention config.
	Retention *models.RetentionConfig
	// RBAC holds the initial permission overrides.
	RBAC models.RBACConfig
	// ConsistencyCheckDelay defaults to DefaultConsistencyCheckDelay. A
	// negative value disables the check.
	ConsistencyCheckDelay time.Duration
	Logger                zerolog.Logger
	Metrics               *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Chat is the engine. It is safe for concurrent use.
type Chat struct {
	store   remote.Adapter
	state   *state.Store
	userID  string
	name    string
	global  *models.RetentionConfig
	delay   time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
	disposed bool
}

var (
	slotMu sync.Mutex
	slot   *Chat
)

// New builds an engine without claiming the process slot.
func New(opts Options) *Chat {
	c := &Chat{
		store:   opts.Store,
		state:   state.New(opts.RBAC),
		userID:  opts.UserID,
		name:    opts.UserName,
		global:  opts.Retention,
		delay:   opts.ConsistencyCheckDelay,
		log:     opts.Logger.With().Str("component", "chat").Logger(),
		metrics: opts.Metrics,
		now:     opts.Now,
		timers:  make(map[*time.Timer]struct{}),
	}
	if c.delay == 0 {
		c.delay = DefaultConsistencyCheckDelay
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Open builds an engine and claims the process slot. A second Open fails with
// ErrAlreadyOpen until the first engine is disposed.
func Open(opts Options) (*Chat, error) {
	slotMu.Lock()
	defer slotMu.Unlock()
	if slot != nil {
		return nil, ErrAlreadyOpen
	}
	slot = New(opts)
	return slot, nil
}

// State exposes the replica for read-only consumers.
func (c *Chat) State() *state.Store {
	return c.state
}

// UserID returns the signed-in user's id.
func (c *Chat) UserID() string {
	return c.userID
}

// Start registers the session-wide observers: the current user, the roster
// and both room collections. It seeds the current user's document when it
// does not exist and a user name is configured.
func (c *Chat) Start(ctx context.Context) error {
	if c.store == nil {
		c.log.Warn().Err(ErrNotInitialized).Msg("start_skipped")
		return nil
	}
	if c.userID == "" {
		return fmt.Errorf("start: %w: empty user id", ErrMalformedInput)
	}
	if err := c.ensureCurrentUser(ctx); err != nil {
		return err
	}

	me := remote.Query{Collection: models.UsersCollection, Filter: query.Eq(remote.IDField, c.userID)}
	if err := c.watch(handleCurrentUserSub, handleCurrentUser, me, c.onCurrentUser); err != nil {
		return err
	}
	users := remote.Query{Collection: models.UsersCollection}
	if err := c.watch(handleUsersSub, handleUsers, users, c.onRoster); err != nil {
		return err
	}
	for _, col := range []struct{ sub, obs, name string }{
		{handleRoomsSub, handleRooms, models.RoomsCollection},
		{handleDMRoomsSub, handleDMRooms, models.DMRoomsCollection},
	} {
		name := col.name
		q := remote.Query{Collection: name, Sort: []query.Sort{query.Asc("createdOn")}}
		if err := c.watch(col.sub, col.obs, q, func(docs []remote.Document) { c.onRooms(name, docs) }); err != nil {
			return err
		}
	}
	c.log.Info().Str("user_id", c.userID).Msg("chat_started")
	return nil
}

// watch registers a subscription and observer pair under session handle names.
func (c *Chat) watch(subName, obsName string, q remote.Query, fn remote.ObserverFunc) error {
	sub, err := c.store.RegisterSubscription(q)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", q.Collection, err)
	}
	remote.CancelIfActive(c.state.SetSessionHandle(subName, sub))

	obs, err := c.store.RegisterObserver(q, fn)
	if err != nil {
		return fmt.Errorf("observe %s: %w", q.Collection, err)
	}
	remote.CancelIfActive(c.state.SetSessionHandle(obsName, obs))
	return nil
}

// Logout cancels every held subscription, observer and in-flight download and
// reports how many were cancelled. Cached content is kept; rooms can be
// subscribed again afterwards. Calling it repeatedly is safe.
func (c *Chat) Logout() int {
	n := 0
	for _, h := range c.state.TakeHandles() {
		if remote.CancelIfActive(h) {
			n++
		}
	}
	c.metrics.SetRoomSubscriptions(0)
	c.log.Info().Int("cancelled", n).Msg("logout")
	return n
}

// Dispose logs out, stops pending consistency checks, purges cached content
// and releases the process slot when this engine holds it.
func (c *Chat) Dispose() {
	c.Logout()

	c.timersMu.Lock()
	c.disposed = true
	for t := range c.timers {
		t.Stop()
	}
	c.timers = make(map[*time.Timer]struct{})
	c.timersMu.Unlock()

	c.state.Apply(state.Purge{})

	slotMu.Lock()
	if slot == c {
		slot = nil
	}
	slotMu.Unlock()
	c.log.Info().Msg("disposed")
}

// after runs fn once delay has passed unless the engine is disposed first.
func (c *Chat) after(delay time.Duration, fn func()) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if c.disposed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.timersMu.Lock()
		_, live := c.timers[t]
		delete(c.timers, t)
		c.timersMu.Unlock()
		if live {
			fn()
		}
	})
	c.timers[t] = struct{}{}
}

func (c *Chat) timestamp() string {
	return utils.FormatTimestamp(c.now())
}
