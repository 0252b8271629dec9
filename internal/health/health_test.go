package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopentry/internal/config"
)

func testProbe(t *testing.T, handler http.Handler) (*Probe, *config.Config) {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg.Health.URL = server.URL
	cfg.Health.MarkerFile = filepath.Join(t.TempDir(), "healthy")
	cfg.Health.HTTPAttempts = 3
	cfg.Health.HTTPBackoff = time.Millisecond

	p := NewProbe(cfg, nil)
	p.processAlive = func() (bool, error) { return true, nil }
	p.sleep = func(time.Duration) {}
	return p, cfg
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRun_HealthyWritesMarker(t *testing.T) {
	p, cfg := testProbe(t, okHandler())

	require.NoError(t, p.Run(context.Background()))
	assert.FileExists(t, cfg.Health.MarkerFile)
}

func TestRun_UnhealthyRemovesMarker(t *testing.T) {
	p, cfg := testProbe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	require.NoError(t, os.WriteFile(cfg.Health.MarkerFile, []byte("stale"), 0644))

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.NoFileExists(t, cfg.Health.MarkerFile)
}

func TestHTTPCheck_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	p, cfg := testProbe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
	assert.FileExists(t, cfg.Health.MarkerFile)
}

func TestHTTPCheck_FailsAfterFixedAttempts(t *testing.T) {
	var calls atomic.Int32
	p, cfg := testProbe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(cfg.Health.HTTPAttempts), calls.Load())
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestHTTPCheck_AcceptsNonErrorStatuses(t *testing.T) {
	p, _ := testProbe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, p.Check(context.Background()))
}

func TestCheck_DeadProcessShortCircuits(t *testing.T) {
	var calls atomic.Int32
	p, _ := testProbe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	p.processAlive = func() (bool, error) { return false, nil }

	err := p.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
	assert.Equal(t, int32(0), calls.Load(), "no HTTP check when the server process is gone")
}

func TestCheck_StorePingFailure(t *testing.T) {
	p, _ := testProbe(t, okHandler())
	p.storePing = func(ctx context.Context) error {
		return errors.New("access denied")
	}

	err := p.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store check failed")
}

func TestCheck_NoStoreConfiguredSkipsPing(t *testing.T) {
	p, _ := testProbe(t, okHandler())
	p.storePing = nil
	require.NoError(t, p.Check(context.Background()))
}
