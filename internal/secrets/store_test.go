package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	_, err = s.Token("https://relay.example.com")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetToken("https://relay.example.com/", "s3cret"))
	got, err := s.Token("https://relay.example.com")
	require.NoError(t, err)
	require.Equal(t, "s3cret", got)

	raw, err := os.ReadFile(filepath.Join(dir, fileName))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "s3cret")
	info, err := os.Stat(filepath.Join(dir, fileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, s.DeleteToken("https://relay.example.com"))
	_, err = s.Token("https://relay.example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolvePrefersEnv(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.SetToken("https://relay", "stored"))

	t.Setenv("MONEYSYNC_TEST_TOKEN", "")
	tok, err := s.Resolve("https://relay", "MONEYSYNC_TEST_TOKEN")
	require.NoError(t, err)
	require.Equal(t, "stored", tok)

	t.Setenv("MONEYSYNC_TEST_TOKEN", "from-env")
	tok, err = s.Resolve("https://relay", "MONEYSYNC_TEST_TOKEN")
	require.NoError(t, err)
	require.Equal(t, "from-env", tok)

	tok, err = s.Resolve("https://other", "")
	require.NoError(t, err)
	require.Empty(t, tok)
}
