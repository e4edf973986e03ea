// Package directory implements the rendezvous core: nodes register a
// reachable endpoint under their signing key, other clients resolve that
// identity to the endpoint, and the identity owner can audit who asked.
package directory

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lighthouse-p2p/lighthouse/pkg/identity"
	"github.com/lighthouse-p2p/lighthouse/pkg/observability/metrics"
	"github.com/lighthouse-p2p/lighthouse/pkg/registry"
	"github.com/lighthouse-p2p/lighthouse/pkg/replay"
	"github.com/lighthouse-p2p/lighthouse/pkg/types"
	"github.com/lighthouse-p2p/lighthouse/pkg/util"
)

const (
	lockStripes = 64

	retryBackoff       = 50 * time.Millisecond
	retryJitterPercent = 0.5
)

// Options tune per-deployment policy. The zero value is safe for tests:
// no freshness window, unsigned lookups, wipe disabled.
type Options struct {
	// FreshnessWindow bounds how far a request timestamp may drift from
	// the server clock. Zero disables the wall-clock check; per-identity
	// monotonicity still applies.
	FreshnessWindow time.Duration

	// RequireSignedLookups makes lookup demand a signature from the
	// querying client. The observed wire protocol leaves lookups
	// unsigned, so this defaults off.
	RequireSignedLookups bool

	// AdminToken authorizes wipe. Wipe is refused outright when the
	// token is empty, unless AllowUnauthenticatedWipe is set.
	AdminToken               string
	AllowUnauthenticatedWipe bool

	// StoreTimeout bounds each backing-store call; StoreRetries is how
	// many times a failed store mutation is retried before surfacing.
	StoreTimeout time.Duration
	StoreRetries int
}

type RegisterRequest struct {
	Endpoint  string
	PubKey    string
	Signature string
	Timestamp int64
}

type RegisterResult struct {
	ID       types.NodeID
	Endpoint types.Endpoint
}

type LookupRequest struct {
	ID        string
	Client    string
	Timestamp int64

	// Present only when the deployment requires signed lookups.
	PubKey    string
	Signature string
}

type ListConnsRequest struct {
	ID        string
	Signature string
	Timestamp int64
}

// Service orchestrates the replay guard, signature verification and the
// registry into the four directory operations.
type Service struct {
	log     *zap.SugaredLogger
	store   registry.Store
	guard   *replay.Guard
	metrics *metrics.Directory
	opts    Options
	locks   [lockStripes]sync.Mutex
	now     func() time.Time
}

func New(store registry.Store, opts Options) *Service {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.StoreRetries < 0 {
		opts.StoreRetries = 0
	}

	return &Service{
		log:     zap.S().Named("directory"),
		store:   store,
		guard:   replay.NewGuard(opts.FreshnessWindow),
		metrics: metrics.NewDirectory(),
		opts:    opts,
		now:     time.Now,
	}
}

// Register records or replaces the endpoint claim for the identity derived
// from the supplied public key. The id is always derived server-side.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (res RegisterResult, err error) {
	defer func() { s.metrics.Record(ctx, "register", err) }()

	endpoint, parseErr := types.ParseEndpoint(req.Endpoint)
	if parseErr != nil {
		return RegisterResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, parseErr)
	}

	pub, parseErr := identity.ParsePublicKey(req.PubKey)
	if parseErr != nil {
		return RegisterResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, parseErr)
	}

	sig, parseErr := identity.ParseSignature(req.Signature)
	if parseErr != nil {
		return RegisterResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, parseErr)
	}

	id := identity.DeriveID(pub)

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.guard.Check(id, req.Timestamp); err != nil {
		return RegisterResult{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if !identity.VerifyRegister(pub, sig, endpoint, req.Timestamp) {
		return RegisterResult{}, fmt.Errorf("%w: signature verification failed", ErrUnauthorized)
	}

	// The timestamp is consumed from here on, even if storage fails:
	// an attacker must not be able to probe freshness for free with a
	// captured signature.
	s.guard.Commit(id, req.Timestamp)

	reg := registry.Registration{
		ID:           id,
		PubKey:       pub,
		Endpoint:     endpoint,
		RegisteredAt: s.now().UTC(),
	}

	if err := s.withStore(ctx, func(ctx context.Context) error {
		return s.store.PutRegistration(ctx, reg)
	}); err != nil {
		return RegisterResult{}, err
	}

	s.log.Infow("registered", "id", id.Short(), "endpoint", endpoint.String())

	return RegisterResult{ID: id, Endpoint: endpoint}, nil
}

// Lookup resolves an identity to its registered endpoint and records the
// querying client in the identity's lookup history.
func (s *Service) Lookup(ctx context.Context, req LookupRequest) (ep types.Endpoint, err error) {
	defer func() { s.metrics.Record(ctx, "lookup", err) }()

	id, parseErr := types.ParseNodeID(req.ID)
	if parseErr != nil {
		return types.Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidInput, parseErr)
	}

	client, parseErr := types.ParseEndpoint(req.Client)
	if parseErr != nil {
		return types.Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidInput, parseErr)
	}

	if s.opts.RequireSignedLookups {
		if err := s.authorizeLookup(id, client, req); err != nil {
			return types.Endpoint{}, err
		}
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	reg, getErr := s.getRegistration(ctx, id)
	if getErr != nil {
		return types.Endpoint{}, getErr
	}

	rec := registry.LookupRecord{
		ID:         id,
		Client:     client,
		LookedUpAt: s.now().UTC(),
	}
	if err := s.withStore(ctx, func(ctx context.Context) error {
		return s.store.AppendLookup(ctx, rec)
	}); err != nil {
		return types.Endpoint{}, err
	}

	s.log.Debugw("lookup", "id", id.Short(), "client", client.String())

	return reg.Endpoint, nil
}

func (s *Service) authorizeLookup(id types.NodeID, client types.Endpoint, req LookupRequest) error {
	pub, err := identity.ParsePublicKey(req.PubKey)
	if err != nil {
		return fmt.Errorf("%w: signed lookups required: %v", ErrUnauthorized, err)
	}

	sig, err := identity.ParseSignature(req.Signature)
	if err != nil {
		return fmt.Errorf("%w: signed lookups required: %v", ErrUnauthorized, err)
	}

	// The querier's stripe serializes check-verify-commit; concurrent
	// byte-identical lookups must not both pass the replay check. Released
	// before the caller takes the target's stripe.
	querier := identity.DeriveID(pub)
	lock := s.lockFor(querier)
	lock.Lock()
	defer lock.Unlock()

	if err := s.guard.Check(querier, req.Timestamp); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if !identity.VerifyLookup(pub, sig, id, client, req.Timestamp) {
		return fmt.Errorf("%w: signature verification failed", ErrUnauthorized)
	}

	s.guard.Commit(querier, req.Timestamp)
	return nil
}

// ListConns returns the lookup history for an identity, newest first. Only
// the holder of the identity's registered key may ask.
func (s *Service) ListConns(ctx context.Context, req ListConnsRequest) (recs []registry.LookupRecord, err error) {
	defer func() { s.metrics.Record(ctx, "listconns", err) }()

	id, parseErr := types.ParseNodeID(req.ID)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, parseErr)
	}

	sig, parseErr := identity.ParseSignature(req.Signature)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, parseErr)
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	reg, getErr := s.getRegistration(ctx, id)
	if getErr != nil {
		return nil, getErr
	}

	if err := s.guard.Check(id, req.Timestamp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if !identity.VerifyListConns(reg.PubKey, sig, id, req.Timestamp) {
		return nil, fmt.Errorf("%w: signature verification failed", ErrUnauthorized)
	}

	s.guard.Commit(id, req.Timestamp)

	history, lookupErr := s.lookupsFor(ctx, id)
	if lookupErr != nil {
		return nil, lookupErr
	}

	// Stored oldest-first; served most-recent-first.
	out := make([]registry.LookupRecord, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i])
	}

	return out, nil
}

// Wipe clears every registration, the lookup history and the replay
// watermarks. Intended for test and bootstrap environments; production
// deployments gate it behind the admin token.
func (s *Service) Wipe(ctx context.Context, adminToken string) (err error) {
	defer func() { s.metrics.Record(ctx, "wipe", err) }()

	if !s.opts.AllowUnauthenticatedWipe {
		if s.opts.AdminToken == "" {
			return fmt.Errorf("%w: wipe is disabled", ErrUnauthorized)
		}
		if subtle.ConstantTimeCompare([]byte(adminToken), []byte(s.opts.AdminToken)) != 1 {
			return fmt.Errorf("%w: bad admin token", ErrUnauthorized)
		}
	}

	// Hold every stripe so no request lands between the store wipe and the
	// guard reset with its watermark cleared but its state intact.
	for i := range s.locks {
		s.locks[i].Lock()
	}
	defer func() {
		for i := range s.locks {
			s.locks[i].Unlock()
		}
	}()

	if err := s.withStore(ctx, func(ctx context.Context) error {
		return s.store.Wipe(ctx)
	}); err != nil {
		return err
	}

	s.guard.Reset()
	s.log.Infow("directory wiped")

	return nil
}

func (s *Service) getRegistration(ctx context.Context, id types.NodeID) (registry.Registration, error) {
	var reg registry.Registration
	err := s.withStore(ctx, func(ctx context.Context) error {
		var getErr error
		reg, getErr = s.store.GetRegistration(ctx, id)
		return getErr
	})
	return reg, err
}

func (s *Service) lookupsFor(ctx context.Context, id types.NodeID) ([]registry.LookupRecord, error) {
	var recs []registry.LookupRecord
	err := s.withStore(ctx, func(ctx context.Context) error {
		var lookupErr error
		recs, lookupErr = s.store.Lookups(ctx, id)
		return lookupErr
	})
	return recs, err
}

// withStore applies the configured timeout and bounded retry policy to a
// backing-store call. NotFound is a definitive answer, not a failure.
func (s *Service) withStore(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.opts.StoreRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		if errors.Is(err, registry.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
		s.log.Warnw("store call failed", "attempt", attempt+1, "error", err)

		if attempt < s.opts.StoreRetries {
			if err := util.SleepJittered(ctx, retryBackoff, retryJitterPercent); err != nil {
				break
			}
		}
	}

	return fmt.Errorf("%w: %v", ErrInternal, lastErr)
}

func (s *Service) lockFor(id types.NodeID) *sync.Mutex {
	return &s.locks[int(id[0])%lockStripes]
}
