package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/cache"
)

// Store persists sessions between requests.
type Store interface {
	Get(ctx context.Context, id string) (*Session, bool, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

type cacheStore struct {
	c      cache.Cacher
	prefix string
	maxAge time.Duration
	now    func() time.Time
}

// NewStore returns a Store keeping JSON encoded sessions in c. Sessions
// older than maxAge are treated as missing; zero disables expiry.
func NewStore(c cache.Cacher, maxAge time.Duration) Store {
	return &cacheStore{c: c, prefix: "sess:", maxAge: maxAge, now: time.Now}
}

// New creates an unsaved session for user.
func New(user string, now time.Time, maxAge time.Duration) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		User:      user,
		CreatedAt: now,
		modified:  true,
	}
	if maxAge > 0 {
		s.ExpiresAt = now.Add(maxAge)
	}
	return s
}

func (s *cacheStore) Get(_ context.Context, id string) (*Session, bool, error) {
	if id == "" {
		return nil, false, nil
	}
	raw, ok, err := s.c.Get(s.prefix + id)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read session")
	}
	if !ok {
		return nil, false, nil
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, false, errors.Wrap(err, "failed to decode session")
	}
	if sess.Expired(s.now()) {
		return nil, false, s.c.Delete(s.prefix + id)
	}
	return &sess, true, nil
}

func (s *cacheStore) Save(_ context.Context, sess *Session) error {
	if sess.ID == "" {
		return errors.New("session has no identifier")
	}
	if sess.ExpiresAt.IsZero() && s.maxAge > 0 {
		sess.ExpiresAt = s.now().Add(s.maxAge)
	}
	sess.mu.Lock()
	raw, err := json.Marshal(sess)
	sess.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "failed to encode session")
	}
	if err := s.c.Set(s.prefix+sess.ID, raw); err != nil {
		return errors.Wrap(err, "failed to write session")
	}
	sess.markSaved()
	return nil
}

func (s *cacheStore) Delete(_ context.Context, id string) error {
	return errors.Wrap(s.c.Delete(s.prefix+id), "failed to delete session")
}
