package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerConfigAdmitsDebugClient(t *testing.T) {
	p := &Pool{image: DefaultImage, host: "localhost"}
	cfg := p.containerConfig("0123456789abcdef")

	assert.Equal(t, DefaultImage, cfg.Image)
	assert.Equal(t, "rostersync", cfg.Labels["managed-by"])
	assert.Equal(t, "0123456789abcdef", cfg.Labels["session-id"])
	assert.Contains(t, cfg.Env, "MAX_CONCURRENT_SESSIONS=2")
	assert.Contains(t, cfg.ExposedPorts, devtoolPort)
}

func TestHostConfigBindsLoopbackOnly(t *testing.T) {
	bindings := hostConfig().PortBindings[devtoolPort]
	require.Len(t, bindings, 1)
	assert.Equal(t, "127.0.0.1", bindings[0].HostIP)
	assert.Equal(t, "0", bindings[0].HostPort)
}

func TestWaitReady(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json/version", r.URL.Path)
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	p := &Pool{host: u.Hostname()}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.waitReady(ctx, u.Port()))
	assert.Equal(t, 2, calls)
}

func TestWaitReadyHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	p := &Pool{host: u.Hostname()}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.waitReady(ctx, u.Port()), context.DeadlineExceeded)
}
