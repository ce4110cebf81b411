// Package credentials resolves device credentials by opaque reference.
// Results are cached briefly; concurrent lookups for the same reference are
// coalesced into a single upstream call.
package credentials

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Sentinel errors distinguishing a missing reference from a backing store
// outage. Collectors treat ErrUnavailable as transient and ErrNotFound as a
// permanent skip.
var (
	ErrNotFound    = errors.New("credential reference not found")
	ErrUnavailable = errors.New("credential store unavailable")
)

// Credentials is the opaque record returned by a lookup.
type Credentials struct {
	Username   string `json:"username"`
	Secret     string `json:"secret"`
	PrivateKey string `json:"privateKey,omitempty"`
}

// Store is the backing secret store consulted on each cache miss.
type Store interface {
	Lookup(ctx context.Context, ref string) (Credentials, error)
}

const cacheTTL = 5 * time.Minute

type cacheEntry struct {
	creds   Credentials
	expires time.Time
}

// Resolver caches Store lookups for at most five minutes per reference.
type Resolver struct {
	store Store

	mu    sync.Mutex
	cache map[string]cacheEntry
	group singleflight.Group
}

// NewResolver wraps a backing store with the caching layer.
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store: store,
		cache: make(map[string]cacheEntry),
	}
}

// Lookup returns the credentials for ref, consulting the backing store on a
// cache miss. Errors are never cached.
func (r *Resolver) Lookup(ctx context.Context, ref string) (Credentials, error) {
	r.mu.Lock()
	if entry, ok := r.cache[ref]; ok && time.Now().Before(entry.expires) {
		r.mu.Unlock()
		return entry.creds, nil
	}
	r.mu.Unlock()

	v, err, shared := r.group.Do(ref, func() (interface{}, error) {
		creds, err := r.store.Lookup(ctx, ref)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[ref] = cacheEntry{creds: creds, expires: time.Now().Add(cacheTTL)}
		r.mu.Unlock()
		return creds, nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Str("ref", ref).Msg("Credential lookup failed")
		}
		return Credentials{}, err
	}
	if shared {
		log.Debug().Str("ref", ref).Msg("Coalesced concurrent credential lookup")
	}
	return v.(Credentials), nil
}

// Invalidate drops a cached entry, forcing the next lookup upstream.
func (r *Resolver) Invalidate(ref string) {
	r.mu.Lock()
	delete(r.cache, ref)
	r.mu.Unlock()
}
