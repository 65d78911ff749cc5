package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudward/azkit-go/pipeline"
)

const (
	// defaultRefreshOffset is how close to expiry a token may get before
	// a proactive refresh is attempted.
	defaultRefreshOffset = 5 * time.Minute
	// defaultRefreshCooldown is the minimum spacing between refresh
	// attempts for the same entry, so a slow or failing identity
	// endpoint is not hammered by every call.
	defaultRefreshCooldown = 30 * time.Second
)

// acquireFunc performs one token acquisition against the identity source.
type acquireFunc func(ctx context.Context) (pipeline.AccessToken, error)

// refresher coordinates the lifecycle of one cached token entry:
// NoToken, ValidToken, StaleToken (still usable, refresh wanted) and
// the refresh attempt between them.
type refresher struct {
	mu          sync.Mutex
	token       *pipeline.AccessToken
	lastAttempt time.Time

	offset   time.Duration
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// sharedGet/sharedPut bridge to an optional cross-process cache.
	// Either may be nil.
	sharedGet func(ctx context.Context) (pipeline.AccessToken, bool)
	sharedPut func(ctx context.Context, tk pipeline.AccessToken)
}

func newRefresher(logger *slog.Logger) *refresher {
	return &refresher{
		offset:   defaultRefreshOffset,
		cooldown: defaultRefreshCooldown,
		now:      time.Now,
		logger:   logger,
	}
}

// get returns a usable token, acquiring or refreshing via acquire as the
// entry's state demands.
//
// Rules, in order:
//   - no cached token: acquire immediately (no cooldown gate); failure
//     propagates.
//   - cached token past expiry: acquire; failure propagates. An expired
//     entry is never returned without a refresh attempt.
//   - cached token inside the refresh offset: attempt a refresh if the
//     cooldown has elapsed; a failed attempt is swallowed and the stale
//     but unexpired token is returned.
//   - otherwise: return the cached token untouched.
func (r *refresher) get(ctx context.Context, acquire acquireFunc) (pipeline.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if r.token == nil && r.sharedGet != nil {
		if tk, ok := r.sharedGet(ctx); ok && now.Before(tk.ExpiresOn) {
			r.token = &tk
		}
	}

	if r.token == nil || !now.Before(r.token.ExpiresOn) {
		r.lastAttempt = now
		tk, err := acquire(ctx)
		if err != nil {
			return pipeline.AccessToken{}, r.classify(err)
		}
		r.store(ctx, tk)
		return tk, nil
	}

	if r.shouldRefresh(now) {
		r.lastAttempt = now
		if tk, err := acquire(ctx); err == nil {
			r.store(ctx, tk)
		} else {
			// Best-effort refresh: the cached token is still valid, so
			// the failure must not surface to this call.
			r.logger.LogAttrs(ctx, slog.LevelDebug, "proactive token refresh failed",
				slog.String("error", err.Error()),
				slog.Time("expires_on", r.token.ExpiresOn))
		}
	}
	return *r.token, nil
}

func (r *refresher) shouldRefresh(now time.Time) bool {
	return r.token.ExpiresOn.Sub(now) <= r.offset &&
		now.Sub(r.lastAttempt) >= r.cooldown
}

func (r *refresher) store(ctx context.Context, tk pipeline.AccessToken) {
	r.token = &tk
	if r.sharedPut != nil {
		r.sharedPut(ctx, tk)
	}
}

// classify preserves CredentialUnavailableError so chains can skip the
// source, and decorates everything else as an authentication failure.
func (r *refresher) classify(err error) error {
	var unavailable *CredentialUnavailableError
	if errors.As(err, &unavailable) {
		return err
	}
	var failed *AuthenticationFailedError
	if errors.As(err, &failed) {
		return err
	}
	return newAuthenticationFailedError(err, 0, nil)
}

// refresherSet owns one refresher per resource for a credential
// instance. Entries are only ever overwritten, never evicted.
type refresherSet struct {
	mu      sync.Mutex
	entries map[string]*refresher
	logger  *slog.Logger

	cache     TokenCache
	keyPrefix string
}

func newRefresherSet(logger *slog.Logger, cache TokenCache, keyPrefix string) *refresherSet {
	return &refresherSet{
		entries:   make(map[string]*refresher),
		logger:    logger,
		cache:     cache,
		keyPrefix: keyPrefix,
	}
}

func (s *refresherSet) forResource(resource string) *refresher {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[resource]
	if !ok {
		r = newRefresher(s.logger)
		if s.cache != nil {
			key := cacheKey(s.keyPrefix, resource)
			r.sharedGet = func(ctx context.Context) (pipeline.AccessToken, bool) {
				tk, ok, err := s.cache.Get(ctx, key)
				if err != nil {
					s.logger.LogAttrs(ctx, slog.LevelDebug, "token cache read failed",
						slog.String("error", err.Error()))
					return pipeline.AccessToken{}, false
				}
				return tk, ok
			}
			r.sharedPut = func(ctx context.Context, tk pipeline.AccessToken) {
				if err := s.cache.Put(ctx, key, tk); err != nil {
					s.logger.LogAttrs(ctx, slog.LevelDebug, "token cache write failed",
						slog.String("error", err.Error()))
				}
			}
		}
		s.entries[resource] = r
	}
	return r
}
