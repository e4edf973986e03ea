package directory_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/lighthouse-p2p/lighthouse/pkg/directory"
	"github.com/lighthouse-p2p/lighthouse/pkg/identity"
	"github.com/lighthouse-p2p/lighthouse/pkg/registry"
	"github.com/lighthouse-p2p/lighthouse/pkg/types"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
	id   types.NodeID
}

func newTestNode(t *testing.T) testNode {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return testNode{pub: pub, priv: priv, id: identity.DeriveID(pub)}
}

func (n testNode) registerReq(t *testing.T, endpoint string, ts int64) directory.RegisterRequest {
	t.Helper()
	ep, err := types.ParseEndpoint(endpoint)
	require.NoError(t, err)

	sig, err := identity.SignRegister(n.priv, ep, ts)
	require.NoError(t, err)

	return directory.RegisterRequest{
		Endpoint:  endpoint,
		PubKey:    hex.EncodeToString(n.pub),
		Signature: hex.EncodeToString(sig),
		Timestamp: ts,
	}
}

func (n testNode) listConnsReq(t *testing.T, id types.NodeID, ts int64) directory.ListConnsRequest {
	t.Helper()
	sig, err := identity.SignListConns(n.priv, id, ts)
	require.NoError(t, err)

	return directory.ListConnsRequest{
		ID:        id.String(),
		Signature: hex.EncodeToString(sig),
		Timestamp: ts,
	}
}

func newService(opts directory.Options) *directory.Service {
	return directory.New(registry.NewMemoryStore(), opts)
}

func TestRegisterThenLookup(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{})
	node := newTestNode(t)

	res, err := svc.Register(ctx, node.registerReq(t, "10.0.0.1:9000", 1))
	require.NoError(t, err)
	require.Equal(t, node.id, res.ID)

	ep, err := svc.Lookup(ctx, directory.LookupRequest{
		ID:        res.ID.String(),
		Client:    "1.1.1.1:9999",
		Timestamp: 2,
	})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:9000", ep.String())
}

func TestReRegisterLastWriteWins(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{})
	node := newTestNode(t)

	_, err := svc.Register(ctx, node.registerReq(t, "10.0.0.1:9000", 1))
	require.NoError(t, err)

	res, err := svc.Register(ctx, node.registerReq(t, "10.0.0.2:9001", 2))
	require.NoError(t, err)
	require.Equal(t, node.id, res.ID, "same key always yields the same id")

	ep, err := svc.Lookup(ctx, directory.LookupRequest{
		ID:        node.id.String(),
		Client:    "1.1.1.1:9999",
		Timestamp: 3,
	})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.2:9001", ep.String())
}

func TestRegisterBadSignatureDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{})
	node := newTestNode(t)

	_, err := svc.Register(ctx, node.registerReq(t, "10.0.0.1:9000", 1))
	require.NoError(t, err)

	// Valid signature over a different endpoint than the one claimed.
	forged := node.registerReq(t, "10.0.0.1:9000", 2)
	forged.Endpoint = "6.6.6.6:6666"
	_, err = svc.Register(ctx, forged)
	require.ErrorIs(t, err, directory.ErrUnauthorized)

	ep, err := svc.Lookup(ctx, directory.LookupRequest{
		ID:        node.id.String(),
		Client:    "1.1.1.1:9999",
		Timestamp: 3,
	})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:9000", ep.String(), "prior state must survive")
}

func TestRegisterReplayRejected(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{})
	node := newTestNode(t)

	req := node.registerReq(t, "10.0.0.1:9000", 1)

	_, err := svc.Register(ctx, req)
	require.NoError(t, err)

	// Byte-for-byte replay: same signature, same timestamp.
	_, err = svc.Register(ctx, req)
	require.ErrorIs(t, err, directory.ErrUnauthorized)
}

func TestListConnsReplayRejected(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{})
	node := newTestNode(t)

	_, err := svc.Register(ctx, node.registerReq(t, "10.0.0.1:9000", 1))
	require.NoError(t, err)

	req := node.listConnsReq(t, node.id, 2)

	_, err = svc.ListConns(ctx, req)
	require.NoError(t, err)

	_, err = svc.ListConns(ctx, req)
	require.ErrorIs(t, err, directory.ErrUnauthorized)
}

func TestListConnsHistoryAndOwnership(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{})
	node := newTestNode(t)

	_, err := svc.Register(ctx, node.registerReq(t, "10.0.0.1:9000", 1))
	require.NoError(t, err)

	clients := []string{"1.1.1.1:1111", "2.2.2.2:2222", "3.3.3.3:3333"}
	for i, client := range clients {
		_, err := svc.Lookup(ctx, directory.LookupRequest{
			ID:        node.id.String(),
			Client:    client,
			Timestamp: int64(10 + i),
		})
		require.NoError(t, err)
	}

	recs, err := svc.ListConns(ctx, node.listConnsReq(t, node.id, 20))
	require.NoError(t, err)
	require.Len(t, recs, len(clients))

	// Most recent first.
	require.Equal(t, "3.3.3.3:3333", recs[0].Client.String())
	require.Equal(t, "2.2.2.2:2222", recs[1].Client.String())
	require.Equal(t, "1.1.1.1:1111", recs[2].Client.String())

	// A different identity's key cannot read the history.
	intruder := newTestNode(t)
	_, err = svc.ListConns(ctx, intruder.listConnsReq(t, node.id, 21))
	require.ErrorIs(t, err, directory.ErrUnauthorized)
}

func TestLookupUnknownIdentity(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{})
	unknown := newTestNode(t)

	_, err := svc.Lookup(ctx, directory.LookupRequest{
		ID:        unknown.id.String(),
		Client:    "1.1.1.1:9999",
		Timestamp: 1,
	})
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestListConnsUnknownIdentity(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{})
	unknown := newTestNode(t)

	_, err := svc.ListConns(ctx, unknown.listConnsReq(t, unknown.id, 1))
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestSmokeScenario(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{AllowUnauthenticatedWipe: true})
	node := newTestNode(t)

	res, err := svc.Register(ctx, node.registerReq(t, "10.0.0.1:9000", 1))
	require.NoError(t, err)

	ep, err := svc.Lookup(ctx, directory.LookupRequest{
		ID:        res.ID.String(),
		Client:    "1.1.1.1:9999",
		Timestamp: 2,
	})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:9000", ep.String())

	recs, err := svc.ListConns(ctx, node.listConnsReq(t, res.ID, 3))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "1.1.1.1:9999", recs[0].Client.String())

	require.NoError(t, svc.Wipe(ctx, ""))

	_, err = svc.Lookup(ctx, directory.LookupRequest{
		ID:        res.ID.String(),
		Client:    "1.1.1.1:9999",
		Timestamp: 4,
	})
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestWipeAuthorization(t *testing.T) {
	ctx := context.Background()

	t.Run("DisabledByDefault", func(t *testing.T) {
		svc := newService(directory.Options{})
		require.ErrorIs(t, svc.Wipe(ctx, ""), directory.ErrUnauthorized)
	})

	t.Run("AdminToken", func(t *testing.T) {
		svc := newService(directory.Options{AdminToken: "deploy-secret"})
		require.ErrorIs(t, svc.Wipe(ctx, "wrong"), directory.ErrUnauthorized)
		require.NoError(t, svc.Wipe(ctx, "deploy-secret"))
	})
}

func TestWipeResetsReplayGuard(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{AllowUnauthenticatedWipe: true})
	node := newTestNode(t)

	req := node.registerReq(t, "10.0.0.1:9000", 1)
	_, err := svc.Register(ctx, req)
	require.NoError(t, err)

	require.NoError(t, svc.Wipe(ctx, ""))

	// After a wipe the same signed request registers again.
	_, err = svc.Register(ctx, req)
	require.NoError(t, err)
}

func TestRegisterRejectsMalformedInput(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{})
	node := newTestNode(t)

	valid := node.registerReq(t, "10.0.0.1:9000", 1)

	for name, mutate := range map[string]func(r *directory.RegisterRequest){
		"BadEndpoint":  func(r *directory.RegisterRequest) { r.Endpoint = "no-port" },
		"BadPubKey":    func(r *directory.RegisterRequest) { r.PubKey = "zz" },
		"ShortPubKey":  func(r *directory.RegisterRequest) { r.PubKey = "abcd" },
		"BadSignature": func(r *directory.RegisterRequest) { r.Signature = "aa" },
	} {
		t.Run(name, func(t *testing.T) {
			req := valid
			mutate(&req)
			_, err := svc.Register(ctx, req)
			require.ErrorIs(t, err, directory.ErrInvalidInput)
		})
	}
}

func TestSignedLookupPolicy(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{RequireSignedLookups: true})
	node := newTestNode(t)
	querier := newTestNode(t)

	_, err := svc.Register(ctx, node.registerReq(t, "10.0.0.1:9000", 1))
	require.NoError(t, err)

	client, err := types.ParseEndpoint("1.1.1.1:9999")
	require.NoError(t, err)

	// Unsigned lookup is refused under the policy.
	_, err = svc.Lookup(ctx, directory.LookupRequest{
		ID:        node.id.String(),
		Client:    client.String(),
		Timestamp: 2,
	})
	require.ErrorIs(t, err, directory.ErrUnauthorized)

	sig, err := identity.SignLookup(querier.priv, node.id, client, 2)
	require.NoError(t, err)

	ep, err := svc.Lookup(ctx, directory.LookupRequest{
		ID:        node.id.String(),
		Client:    client.String(),
		Timestamp: 2,
		PubKey:    hex.EncodeToString(querier.pub),
		Signature: hex.EncodeToString(sig),
	})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:9000", ep.String())
}

func TestSignedLookupReplayRejectedUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{RequireSignedLookups: true})
	node := newTestNode(t)
	querier := newTestNode(t)

	_, err := svc.Register(ctx, node.registerReq(t, "10.0.0.1:9000", 1))
	require.NoError(t, err)

	client, err := types.ParseEndpoint("1.1.1.1:9999")
	require.NoError(t, err)
	sig, err := identity.SignLookup(querier.priv, node.id, client, 2)
	require.NoError(t, err)

	req := directory.LookupRequest{
		ID:        node.id.String(),
		Client:    client.String(),
		Timestamp: 2,
		PubKey:    hex.EncodeToString(querier.pub),
		Signature: hex.EncodeToString(sig),
	}

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Lookup(ctx, req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded int
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, directory.ErrUnauthorized)
	}
	require.Equal(t, 1, succeeded, "a signed lookup timestamp is single-use")
}

func TestWipeDoesNotStrandReplayState(t *testing.T) {
	ctx := context.Background()
	svc := newService(directory.Options{AllowUnauthenticatedWipe: true})
	node := newTestNode(t)

	req := node.registerReq(t, "10.0.0.1:9000", 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = svc.Register(ctx, req)
	}()
	go func() {
		defer wg.Done()
		_ = svc.Wipe(ctx, "")
	}()
	wg.Wait()

	// Whichever way the race resolved, a surviving registration must keep
	// its spent timestamp: a wipe may clear both or neither.
	_, err := svc.Lookup(ctx, directory.LookupRequest{
		ID:        node.id.String(),
		Client:    "1.1.1.1:9999",
		Timestamp: 2,
	})
	if err != nil {
		require.ErrorIs(t, err, directory.ErrNotFound)
		return
	}

	_, err = svc.Register(ctx, req)
	require.ErrorIs(t, err, directory.ErrUnauthorized)
}

// flakyStore fails every mutation a configurable number of times.
type flakyStore struct {
	registry.Store
	putFailures int
}

func (s *flakyStore) PutRegistration(ctx context.Context, reg registry.Registration) error {
	if s.putFailures > 0 {
		s.putFailures--
		return errors.New("store unavailable")
	}
	return s.Store.PutRegistration(ctx, reg)
}

func TestRegisterRetriesStoreFailures(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: registry.NewMemoryStore(), putFailures: 2}
	svc := directory.New(store, directory.Options{StoreRetries: 2})
	node := newTestNode(t)

	_, err := svc.Register(ctx, node.registerReq(t, "10.0.0.1:9000", 1))
	require.NoError(t, err)
}

func TestTimestampConsumedOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: registry.NewMemoryStore(), putFailures: 10}
	svc := directory.New(store, directory.Options{})
	node := newTestNode(t)

	req := node.registerReq(t, "10.0.0.1:9000", 1)

	_, err := svc.Register(ctx, req)
	require.ErrorIs(t, err, directory.ErrInternal)

	// The signature verified, so the timestamp is spent: replaying the
	// same request once storage recovers must fail the replay check.
	store.putFailures = 0
	_, err = svc.Register(ctx, req)
	require.ErrorIs(t, err, directory.ErrUnauthorized)

	// A fresh timestamp from the legitimate owner still goes through.
	_, err = svc.Register(ctx, node.registerReq(t, "10.0.0.1:9000", 2))
	require.NoError(t, err)
}
