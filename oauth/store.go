package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reactwaylabs/api-builder/clock"
	"github.com/reactwaylabs/api-builder/storage"
)

// tokenStore owns the live credentials, their persisted copy and the
// renewal timer. Every install or clear bumps gen; a renewal armed under
// an older gen is stale and must not install its result.
type tokenStore struct {
	clock   clock.Clock
	storage storage.Storage // nil when persistence is off
	key     string
	renewal bool
	lead    func(expiresIn int) int
	onRenew func(gen uint64, refreshToken string)
	logger  *zap.Logger

	mu       sync.Mutex
	creds    *Credentials
	issuedAt time.Time
	timer    clock.Timer
	gen      uint64
}

// restore loads persisted credentials. No renewal timer is armed: the
// stored lifetime is relative to an issue time that was not persisted.
func (s *tokenStore) restore(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	raw, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("oauth: restore credentials: %w", err)
	}

	c, err := decodeCredentials([]byte(raw))
	if err == nil && c.ExpiresIn == nil {
		err = ErrMissingExpiry
	}
	if err != nil {
		s.logger.Warn("ignoring unreadable persisted credentials", zap.String("key", s.key), zap.Error(err))
		return nil
	}

	s.mu.Lock()
	s.creds = &c
	s.gen++
	s.mu.Unlock()
	s.logger.Debug("restored persisted credentials", zap.String("key", s.key))
	return nil
}

func (s *tokenStore) current() (Credentials, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return Credentials{}, time.Time{}, false
	}
	return *s.creds, s.issuedAt, true
}

func (s *tokenStore) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// install replaces the live credentials.
func (s *tokenStore) install(ctx context.Context, c Credentials) error {
	if c.ExpiresIn == nil {
		return ErrMissingExpiry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installLocked(ctx, c)
	return nil
}

// installIf installs c only if nothing was installed or cleared since gen.
func (s *tokenStore) installIf(ctx context.Context, gen uint64, c Credentials) (bool, error) {
	if c.ExpiresIn == nil {
		return false, ErrMissingExpiry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false, nil
	}
	s.installLocked(ctx, c)
	return true, nil
}

func (s *tokenStore) installLocked(ctx context.Context, c Credentials) {
	s.creds = &c
	s.issuedAt = s.clock.Now()
	s.gen++
	s.persistLocked(ctx, c)

	s.stopTimerLocked()
	if c.RefreshToken == "" || !s.renewal {
		return
	}
	expiresIn := *c.ExpiresIn
	delay := RenewalDelay(expiresIn, s.lead(expiresIn))
	gen, refreshToken := s.gen, c.RefreshToken
	s.timer = s.clock.AfterFunc(delay, func() { s.onRenew(gen, refreshToken) })
	s.logger.Debug("token renewal scheduled", zap.Duration("delay", delay))
}

func (s *tokenStore) persistLocked(ctx context.Context, c Credentials) {
	if s.storage == nil {
		return
	}
	b, err := json.Marshal(c)
	if err == nil {
		err = s.storage.Set(ctx, s.key, string(b))
	}
	if err != nil {
		s.logger.Warn("failed to persist credentials", zap.String("key", s.key), zap.Error(err))
	}
}

// clearIf drops the credentials, the timer and the persisted copy. With
// gen != 0 it only clears when nothing changed since gen.
func (s *tokenStore) clearIf(ctx context.Context, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != 0 && s.gen != gen {
		return false
	}
	s.creds = nil
	s.issuedAt = time.Time{}
	s.gen++
	s.stopTimerLocked()
	if s.storage != nil {
		if err := s.storage.Delete(ctx, s.key); err != nil {
			s.logger.Warn("failed to remove persisted credentials", zap.String("key", s.key), zap.Error(err))
		}
	}
	return true
}

func (s *tokenStore) clear(ctx context.Context) {
	s.clearIf(ctx, 0)
}

func (s *tokenStore) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
}

func (s *tokenStore) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
