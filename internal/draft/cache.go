package draft

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"ai-food-diary/internal/food"
)

// ID prefixes for drafts produced by recognition and by user products.
const (
	PrefixFood    = "food"
	PrefixProduct = "product"
)

// Cache keeps drafts in process memory, mirrored write-through into the
// durable session store. The session store is authoritative: a local miss
// reloads from it, and Load always consults it.
type Cache struct {
	store  SessionStore
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu    sync.RWMutex
	local map[string]localEntry

	users *KeyedMutex
	loads singleflight.Group
}

type localEntry struct {
	userID int64
	draft  StoredDraft
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets the maximum draft age; zero disables expiry.
func WithTTL(d time.Duration) CacheOption { return func(c *Cache) { c.ttl = d } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) CacheOption { return func(c *Cache) { c.now = now } }

// NewCache creates a Cache over store.
func NewCache(store SessionStore, logger *zap.Logger, opts ...CacheOption) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		store:  store,
		ttl:    24 * time.Hour,
		now:    time.Now,
		logger: logger,
		local:  make(map[string]localEntry),
		users:  NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewID mints "<prefix>_<unix millis>_<random>".
func NewID(prefix string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), random)
}

// Put stores a recognized analysis and returns its new food_ ID.
func (c *Cache) Put(ctx context.Context, userID int64, a food.Analysis) (string, error) {
	return c.PutWithPrefix(ctx, userID, PrefixFood, a)
}

// PutWithPrefix stores a draft under a fresh ID with the given prefix.
// The durable write happens first; the local map is only updated on success.
func (c *Cache) PutWithPrefix(ctx context.Context, userID int64, prefix string, a food.Analysis) (string, error) {
	unlock := c.users.Lock(userKey(userID))
	defer unlock()

	sess, err := c.loadSession(ctx, userID)
	if err != nil {
		return "", err
	}

	now := c.now()
	id := NewID(prefix, now)
	for _, taken := sess.Drafts[id]; taken; _, taken = sess.Drafts[id] {
		id = NewID(prefix, now)
	}

	d := StoredDraft{Analysis: a, CreatedAt: now}
	sess.Drafts[id] = d
	c.pruneExpired(sess)

	if err := c.saveSession(ctx, userID, sess); err != nil {
		return "", err
	}
	c.setLocal(id, userID, d)

	c.logger.Debug("draft stored", zap.Int64("user_id", userID), zap.String("draft_id", id))
	return id, nil
}

// Get returns a draft, serving from memory when possible and otherwise
// reloading the user's session from durable storage.
func (c *Cache) Get(ctx context.Context, userID int64, id string) (food.Analysis, error) {
	if e, ok := c.getLocal(id); ok && e.userID == userID {
		if !c.expired(e.draft) {
			return e.draft.Analysis, nil
		}
		c.dropLocal(id)
	}

	sess, err := c.reload(ctx, userID)
	if err != nil {
		return food.Analysis{}, err
	}
	d, ok := sess.Drafts[id]
	if !ok || c.expired(d) {
		return food.Analysis{}, food.ErrDraftNotFound
	}
	return d.Analysis, nil
}

// Load is the authoritative read: it always consults durable storage and
// drops any local entry the durable store no longer has.
func (c *Cache) Load(ctx context.Context, userID int64, id string) (food.Analysis, error) {
	unlock := c.users.Lock(userKey(userID))
	defer unlock()

	sess, err := c.loadSession(ctx, userID)
	if err != nil {
		return food.Analysis{}, err
	}
	d, ok := sess.Drafts[id]
	if !ok || c.expired(d) {
		c.dropLocal(id)
		return food.Analysis{}, food.ErrDraftNotFound
	}
	c.setLocal(id, userID, d)
	return d.Analysis, nil
}

// Remove deletes a draft from both layers. Removing an absent draft is not an error.
func (c *Cache) Remove(ctx context.Context, userID int64, id string) error {
	unlock := c.users.Lock(userKey(userID))
	defer unlock()

	sess, err := c.loadSession(ctx, userID)
	if err != nil {
		return err
	}

	_, existed := sess.Drafts[id]
	delete(sess.Drafts, id)
	markerCleared := sess.EditingDraftID == id
	if markerCleared {
		sess.EditingDraftID = ""
		sess.Step = ""
	}

	if existed || markerCleared {
		if err := c.saveSession(ctx, userID, sess); err != nil {
			return err
		}
	}
	c.dropLocal(id)
	return nil
}

// Evict drops only the in-process copy of a draft.
func (c *Cache) Evict(id string) {
	c.dropLocal(id)
}

// MarkEditing records that the user's next message amends draft id.
func (c *Cache) MarkEditing(ctx context.Context, userID int64, id string) error {
	return c.update(ctx, userID, func(s *Session) error {
		d, ok := s.Drafts[id]
		if !ok || c.expired(d) {
			return food.ErrDraftNotFound
		}
		s.EditingDraftID = id
		return nil
	})
}

// EditingDraft returns the draft being edited, or "" when none is.
// A marker whose draft is gone or past its TTL is cleared.
func (c *Cache) EditingDraft(ctx context.Context, userID int64) (string, error) {
	sess, err := c.loadSession(ctx, userID)
	if err != nil {
		return "", err
	}
	if sess.EditingDraftID == "" {
		return "", nil
	}
	if d, ok := sess.Drafts[sess.EditingDraftID]; ok && !c.expired(d) {
		return sess.EditingDraftID, nil
	}
	stale := sess.EditingDraftID
	err = c.update(ctx, userID, func(s *Session) error {
		if s.EditingDraftID == stale {
			s.EditingDraftID = ""
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return "", nil
}

// ClearEditing removes the editing marker.
func (c *Cache) ClearEditing(ctx context.Context, userID int64) error {
	return c.update(ctx, userID, func(s *Session) error {
		s.EditingDraftID = ""
		return nil
	})
}

// SetStep stores the chat-level step for the user ("" clears it).
func (c *Cache) SetStep(ctx context.Context, userID int64, step string) error {
	return c.update(ctx, userID, func(s *Session) error {
		s.Step = step
		return nil
	})
}

// Step returns the user's chat-level step.
func (c *Cache) Step(ctx context.Context, userID int64) (string, error) {
	sess, err := c.loadSession(ctx, userID)
	if err != nil {
		return "", err
	}
	return sess.Step, nil
}

// Reset clears every draft and marker of the user.
func (c *Cache) Reset(ctx context.Context, userID int64) error {
	unlock := c.users.Lock(userKey(userID))
	defer unlock()

	sess, err := c.loadSession(ctx, userID)
	if err != nil {
		return err
	}
	for id := range sess.Drafts {
		c.dropLocal(id)
	}
	return c.saveSession(ctx, userID, &Session{Drafts: map[string]StoredDraft{}})
}

func (c *Cache) update(ctx context.Context, userID int64, fn func(*Session) error) error {
	unlock := c.users.Lock(userKey(userID))
	defer unlock()

	sess, err := c.loadSession(ctx, userID)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	return c.saveSession(ctx, userID, sess)
}

// reload fetches the user's session and repopulates the local map.
// Concurrent reloads for one user share a single durable read.
func (c *Cache) reload(ctx context.Context, userID int64) (*Session, error) {
	v, err, _ := c.loads.Do(userKey(userID), func() (interface{}, error) {
		unlock := c.users.Lock(userKey(userID))
		defer unlock()

		sess, err := c.loadSession(ctx, userID)
		if err != nil {
			return nil, err
		}
		for id, d := range sess.Drafts {
			if !c.expired(d) {
				c.setLocal(id, userID, d)
			}
		}
		c.logger.Debug("drafts reloaded from session store",
			zap.Int64("user_id", userID), zap.Int("drafts", len(sess.Drafts)))
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (c *Cache) loadSession(ctx context.Context, userID int64) (*Session, error) {
	blob, err := c.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session for user %d: %w", userID, err)
	}
	return decodeSession(blob)
}

func (c *Cache) saveSession(ctx context.Context, userID int64, sess *Session) error {
	sess.UpdatedAt = c.now()
	blob, err := encodeSession(sess)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, userID, blob); err != nil {
		return fmt.Errorf("failed to save session for user %d: %w", userID, err)
	}
	return nil
}

func (c *Cache) pruneExpired(sess *Session) {
	for id, d := range sess.Drafts {
		if c.expired(d) {
			delete(sess.Drafts, id)
			c.dropLocal(id)
		}
	}
}

func (c *Cache) expired(d StoredDraft) bool {
	return c.ttl > 0 && c.now().Sub(d.CreatedAt) > c.ttl
}

func (c *Cache) getLocal(id string) (localEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.local[id]
	return e, ok
}

func (c *Cache) setLocal(id string, userID int64, d StoredDraft) {
	c.mu.Lock()
	c.local[id] = localEntry{userID: userID, draft: d}
	c.mu.Unlock()
}

func (c *Cache) dropLocal(id string) {
	c.mu.Lock()
	delete(c.local, id)
	c.mu.Unlock()
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
