package identity

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("warelay/identity")

// Directory is the slice of the remote messaging service the resolver needs.
type Directory interface {
	// ResolveAlias maps an alias-linked identifier to its phone-linked form.
	// Returns "" when the service knows no mapping.
	ResolveAlias(ctx context.Context, id string) (string, error)
	// FetchProfile loads display metadata for a phone-linked identifier.
	FetchProfile(ctx context.Context, id string) (Profile, error)
}

// Profile is the remote service's view of a contact.
type Profile struct {
	Number string
	Name   string
}

// ResolverOptions tune cache lifetimes and remote-call pacing.
type ResolverOptions struct {
	CachePath   string
	TTL         time.Duration // profile cache lifetime
	FallbackTTL time.Duration // lifetime for fallback-origin entries
	CallGap     time.Duration // minimum gap between remote calls
}

// Resolver turns raw identifiers into phone-linked contacts. Resolve never
// returns an error: any failure degrades to a fallback contact synthesized
// from the digits of the input, so downstream can always address a reply.
type Resolver struct {
	dir   Directory
	cache *Cache
	lane  *lane
	now   func() time.Time
}

// NewResolver creates a resolver backed by dir, with a persistent cache at
// opts.CachePath (empty keeps it in-memory).
func NewResolver(dir Directory, opts ResolverOptions) *Resolver {
	return &Resolver{
		dir:   dir,
		cache: NewCache(opts.CachePath, opts.TTL, opts.FallbackTTL),
		lane:  newLane(opts.CallGap),
		now:   time.Now,
	}
}

// Cache exposes the resolver's cache for maintenance sweeps and shutdown
// flushes. Mutation stays inside the identity package.
func (r *Resolver) Cache() *Cache { return r.cache }

// Close stops the serialized call lane.
func (r *Resolver) Close() { r.lane.close() }

// Resolve implements the resolution algorithm: classify, resolve aliases
// through the serialized lane, normalize, then serve the profile from cache
// or fetch it remotely. Failures synthesize a cached fallback so repeated
// lookups for an unreachable identity stop hitting the remote service.
func (r *Resolver) Resolve(ctx context.Context, rawID string) Contact {
	ctx, span := tracer.Start(ctx, "identity.resolve",
		trace.WithAttributes(attribute.String("identity.raw", rawID)))
	defer span.End()

	id := Normalize(rawID)

	switch kind := Classify(id); kind {
	case KindGroup, KindBroadcast:
		// Not resolvable to a person; hand back the identifier untouched.
		slog.Debug("identity resolve short-circuit", "id", id, "kind", kind.String())
		return Contact{
			ID:         id,
			Number:     strings.SplitN(id, "@", 2)[0],
			ResolvedAt: r.now(),
		}
	case KindAlias:
		id = r.resolveAlias(ctx, id)
	}

	id = Sanitize(id)

	if contact, ok := r.cache.Contact(id); ok {
		span.SetAttributes(attribute.Bool("identity.cache_hit", true))
		return contact
	}

	return r.fetchProfile(ctx, id)
}

// resolveAlias substitutes an alias with its canonical form, consulting the
// cache first and falling back to the raw identifier in degraded mode.
func (r *Resolver) resolveAlias(ctx context.Context, alias string) string {
	if canonical, ok := r.cache.Alias(alias); ok {
		return canonical
	}

	var canonical string
	err := r.lane.do(ctx, func(ctx context.Context) error {
		var err error
		canonical, err = r.dir.ResolveAlias(ctx, alias)
		return err
	})
	if err != nil {
		slog.Warn("alias resolution failed, degrading", "alias", alias, "error", err)
		degraded := Sanitize(alias)
		r.cache.PutDegradedAlias(alias, degraded)
		return degraded
	}
	if canonical == "" {
		slog.Warn("alias resolved without phone mapping", "alias", alias)
		degraded := Sanitize(alias)
		r.cache.PutDegradedAlias(alias, degraded)
		return degraded
	}

	r.cache.PutAlias(alias, canonical)
	slog.Info("alias resolved", "alias", alias, "canonical", canonical)
	return canonical
}

// fetchProfile loads and caches the profile for a canonical id, caching a
// fallback on failure (with the shorter fallback TTL).
func (r *Resolver) fetchProfile(ctx context.Context, id string) Contact {
	var profile Profile
	err := r.lane.do(ctx, func(ctx context.Context) error {
		var err error
		profile, err = r.dir.FetchProfile(ctx, id)
		return err
	})
	if err != nil {
		slog.Warn("profile fetch failed, caching fallback", "id", id, "error", err)
		contact := Fallback(id, r.now())
		r.cache.PutContact(contact, true)
		return contact
	}

	contact := Contact{
		ID:         id,
		Number:     profile.Number,
		Name:       profile.Name,
		ResolvedAt: r.now(),
	}
	if contact.Number == "" {
		contact.Number = strings.TrimSuffix(id, SuffixPhone)
	}
	r.cache.PutContact(contact, false)
	slog.Debug("profile fetched", "id", id, "name", contact.Name)
	return contact
}

// SweepExpired evicts expired cache entries. Intended to be called
// opportunistically and from the maintenance schedule.
func (r *Resolver) SweepExpired() int {
	return r.cache.Sweep()
}
