package replay_test

import (
	"testing"
	"time"

	"github.com/lighthouse-p2p/lighthouse/pkg/replay"
	"github.com/lighthouse-p2p/lighthouse/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestGuardMonotonicPerIdentity(t *testing.T) {
	g := replay.NewGuard(0)
	id := types.NodeIDFromBytes([]byte("identity-a"))

	require.NoError(t, g.Check(id, 100))
	g.Commit(id, 100)

	require.ErrorIs(t, g.Check(id, 100), replay.ErrStaleTimestamp)
	require.ErrorIs(t, g.Check(id, 99), replay.ErrStaleTimestamp)
	require.NoError(t, g.Check(id, 101))
}

func TestGuardIdentitiesAreIndependent(t *testing.T) {
	g := replay.NewGuard(0)
	a := types.NodeIDFromBytes([]byte("identity-a"))
	b := types.NodeIDFromBytes([]byte("identity-b"))

	g.Commit(a, 500)

	require.ErrorIs(t, g.Check(a, 500), replay.ErrStaleTimestamp)
	require.NoError(t, g.Check(b, 1))
}

func TestGuardCheckDoesNotMutate(t *testing.T) {
	g := replay.NewGuard(0)
	id := types.NodeIDFromBytes([]byte("identity-a"))

	require.NoError(t, g.Check(id, 10))
	// A failed request that never committed leaves the timestamp usable
	// for a legitimate retry.
	require.NoError(t, g.Check(id, 10))
}

func TestGuardFreshnessWindow(t *testing.T) {
	g := replay.NewGuard(time.Minute)
	id := types.NodeIDFromBytes([]byte("identity-a"))
	now := time.Now().Unix()

	require.NoError(t, g.Check(id, now))
	require.ErrorIs(t, g.Check(id, now-120), replay.ErrStaleTimestamp)
	require.ErrorIs(t, g.Check(id, now+120), replay.ErrStaleTimestamp)
}

func TestGuardReset(t *testing.T) {
	g := replay.NewGuard(0)
	id := types.NodeIDFromBytes([]byte("identity-a"))

	g.Commit(id, 100)
	require.ErrorIs(t, g.Check(id, 100), replay.ErrStaleTimestamp)

	g.Reset()
	require.NoError(t, g.Check(id, 100))
}

func TestGuardCommitNeverMovesBackwards(t *testing.T) {
	g := replay.NewGuard(0)
	id := types.NodeIDFromBytes([]byte("identity-a"))

	g.Commit(id, 100)
	g.Commit(id, 50)

	require.ErrorIs(t, g.Check(id, 100), replay.ErrStaleTimestamp)
}
