package statestore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type snapshot struct {
	TotalShares string            `json:"total_shares"`
	Holdings    map[string]string `json:"holdings"`
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	var got snapshot
	require.ErrorIs(t, s.Load("vault:main", &got), ErrNotExists)

	want := snapshot{TotalShares: "1000", Holdings: map[string]string{"base": "700", "t": "300"}}
	require.NoError(t, s.Save("vault:main", want))
	require.NoError(t, s.Load("vault:main", &got))
	require.Equal(t, want, got)

	want.TotalShares = "0"
	require.NoError(t, s.Save("vault:main", want))
	require.NoError(t, s.Load("vault:main", &got))
	require.Equal(t, "0", got.TotalShares)
}

func TestJSONFileStore(t *testing.T) {
	s, err := Open(Options{Backend: "json", Path: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestBadgerStore(t *testing.T) {
	s, err := Open(Options{Backend: "badger", Path: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestBadgerStoreEncrypted(t *testing.T) {
	s, err := Open(Options{Backend: "badger", Path: t.TempDir(), EncryptionKey: "0x" + strings.Repeat("ab", 32)})
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("")
	require.NoError(t, err)
	require.Nil(t, k)

	k, err = ParseKey(strings.Repeat("01", 32))
	require.NoError(t, err)
	require.Len(t, k, 32)

	_, err = ParseKey("0x0102")
	require.Error(t, err)
	_, err = ParseKey("not a key!")
	require.Error(t, err)
}

func TestUnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "redis"})
	require.Error(t, err)
}
