package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
)

// Identity is the shared secret and public path component of the proxy.
// It is resolved once and never changes for the lifetime of the keeper.
type Identity string

func (i Identity) String() string {
	return string(i)
}

// Resolver implements get-or-create over a Store and caches the result.
// Resolve is called from the startup sequence only and is not safe for concurrent use.
type Resolver struct {
	store    Store
	generate func() string
	logger   logging.Logger

	resolved Identity
}

func NewResolver(store Store, logger logging.Logger) *Resolver {
	return &Resolver{
		store:    store,
		generate: func() string { return uuid.New().String() },
		logger:   logger,
	}
}

// Resolve returns the stored identity, or generates, persists (best effort)
// and returns a fresh one. The generated value is used even when it could not be stored.
func (r *Resolver) Resolve(ctx context.Context) Identity {
	if r.resolved != "" {
		return r.resolved
	}

	stored, err := r.store.Get(ctx)
	if err == nil && stored != "" {
		r.logger.Infof("Using stored identity")
		r.resolved = Identity(stored)
		return r.resolved
	}
	r.logger.Infof("No stored identity, generating one: %v", err)

	fresh := r.generate()
	if err := r.store.Set(ctx, fresh); err != nil {
		r.logger.Warnf("Failed to persist identity, continuing with generated value: %v", err)
	}

	r.resolved = Identity(fresh)
	return r.resolved
}
