package secrets

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
)

func openVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(filepath.Join(t.TempDir(), "secrets"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, v.Close()) })
	return v
}

func TestGenerateAndLookup(t *testing.T) {
	v := openVault(t)

	s, h, err := v.Generate("0xAbC")
	require.NoError(t, err)
	require.True(t, hashlock.Verify(s, h))

	got, err := v.Get(h)
	require.NoError(t, err)
	require.Equal(t, s, got)

	// order hash lookups are case-insensitive
	got, err = v.ByOrder("0xabc")
	require.NoError(t, err)
	require.Equal(t, s, got)

	orders, err := v.Orders()
	require.NoError(t, err)
	require.Equal(t, []string{"0xabc"}, orders)
}

func TestPutRejectsRebinding(t *testing.T) {
	v := openVault(t)

	s1, _ := hashlock.GenerateSecret()
	s2, _ := hashlock.GenerateSecret()
	require.NoError(t, v.Put("0x01", s1))
	require.NoError(t, v.Put("0x01", s1))
	require.ErrorIs(t, v.Put("0x01", s2), ErrConflict)

	got, err := v.ByOrder("0x01")
	require.NoError(t, err)
	require.Equal(t, s1, got)
}

func TestBindAfterPut(t *testing.T) {
	v := openVault(t)

	s, _ := hashlock.GenerateSecret()
	h := hashlock.Commit(s)
	require.NoError(t, v.Put("", s))

	_, err := v.ByOrder("0x02")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, v.Bind("0x02", h))
	got, err := v.ByOrder("0x02")
	require.NoError(t, err)
	require.Equal(t, s, got)

	require.ErrorIs(t, v.Bind("0x03", hashlock.Hashlock{9}), ErrNotFound)
}

func TestForget(t *testing.T) {
	v := openVault(t)

	_, h, err := v.Generate("0x04")
	require.NoError(t, err)
	require.NoError(t, v.Forget("0x04"))
	require.NoError(t, v.Forget("0x04"))

	_, err = v.Get(h)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = v.ByOrder("0x04")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReopenKeepsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets")
	v, err := Open(path)
	require.NoError(t, err)
	s, h, err := v.Generate("0x05")
	require.NoError(t, err)
	require.NoError(t, v.Close())

	v, err = Open(path)
	require.NoError(t, err)
	defer v.Close()
	got, err := v.Get(h)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}
