package background

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareVersions_NumericOrdering(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, compareVersions("v1.2.0", "v1.1.9"))
	assert.Equal(t, -1, compareVersions("v1.1.0", "v1.2.0"))
	assert.Equal(t, 0, compareVersions("v2.0.0", "2.0.0"))
}

func TestCompareVersions_FallsBackToLexicographicOnParseFailure(t *testing.T) {
	t.Parallel()

	assert.Equal(t, compareVersions("nightly", "v1.0.0") > 0, "nightly" > "v1.0.0")
}

func TestCleanupOnce_RemovesStaleMediaAndPrunesEmptyDirs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	sub := filepath.Join(root, "show", "season1")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	stale := filepath.Join(sub, "episode.mkv")
	fresh := filepath.Join(root, "fresh.mkv")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	cleanupOnce(root, 24*time.Hour)

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
	_, err = os.Stat(sub)
	assert.True(t, os.IsNotExist(err), "empty season1 dir should be pruned")
}

func TestFetchPublicIP_FallsThroughToSecondEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("203.0.113.5\n"))
	}))
	defer good.Close()

	original := publicIPEndpoints
	publicIPEndpoints = []string{bad.URL, good.URL}
	t.Cleanup(func() { publicIPEndpoints = original })

	s := New(Config{}, bad.Client())
	ip, err := s.fetchPublicIP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", ip)
}

func TestProbeTokenEndpoint_RejectsServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New(Config{}, srv.Client())
	assert.False(t, s.probeTokenEndpoint(context.Background(), srv.URL))
}

func TestProbeTokenEndpoint_AcceptsNotFoundAsReachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := New(Config{}, srv.Client())
	assert.True(t, s.probeTokenEndpoint(context.Background(), srv.URL))
}

func TestRunStartupUpdateCheck_NoGithubRepoConfiguredIsANoop(t *testing.T) {
	t.Parallel()

	s := New(Config{}, http.DefaultClient)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.runStartupUpdateCheck(ctx)
}
