package state

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"lendpool/storage"
)

type record struct {
	Name   string
	Amount *uint256.Int
	Height uint64
}

func TestKVRoundTripAcrossCommit(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)

	require.NoError(t, m.KVPut([]byte("rec"), &record{Name: "a", Amount: uint256.NewInt(42), Height: 7}))
	require.Equal(t, 0, db.Len())
	require.NoError(t, m.Commit())
	require.Equal(t, 1, db.Len())

	reloaded := NewManager(db)
	var out record
	ok, err := reloaded.KVGet([]byte("rec"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", out.Name)
	require.Equal(t, uint64(42), out.Amount.Uint64())
	require.Equal(t, uint64(7), out.Height)
}

func TestKVGetMissing(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	var out record
	ok, err := m.KVGet([]byte("nope"), &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRevertToSnapshotRestoresPriorValues(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	require.NoError(t, m.KVPut([]byte("a"), uint64(1)))

	snap := m.Snapshot()
	require.NoError(t, m.KVPut([]byte("a"), uint64(2)))
	require.NoError(t, m.KVPut([]byte("b"), uint64(3)))
	require.NoError(t, m.KVDelete([]byte("a")))

	inner := m.Snapshot()
	require.NoError(t, m.KVPut([]byte("c"), uint64(4)))
	m.RevertToSnapshot(inner)
	ok, err := m.KVGet([]byte("c"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	m.RevertToSnapshot(snap)

	var a uint64
	ok, err = m.KVGet([]byte("a"), &a)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), a)

	ok, err = m.KVGet([]byte("b"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteCommittedKey(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	require.NoError(t, m.KVPut([]byte("a"), uint64(1)))
	require.NoError(t, m.Commit())

	require.NoError(t, m.KVDelete([]byte("a")))
	ok, err := m.KVGet([]byte("a"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Commit())
	require.Equal(t, 0, db.Len())
}

func TestInvalidSnapshotPanics(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	require.Panics(t, func() { m.RevertToSnapshot(3) })
}
