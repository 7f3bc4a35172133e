package frontend

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policity/policity/internal/build"
	"github.com/policity/policity/internal/config"
	"github.com/policity/policity/internal/llm"
	"github.com/policity/policity/internal/metrics"
	"github.com/policity/policity/internal/notify"
	"github.com/policity/policity/internal/persistence/memstore"
	"github.com/policity/policity/internal/pipeline"
	"github.com/policity/policity/internal/steps"
)

func TestServerServeAndShutdown(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	graph, err := steps.Graph(steps.Deps{LLM: llm.Offline()})
	require.NoError(t, err)
	events := notify.NewBroadcaster()
	orch := pipeline.New(store, graph, pipeline.WithNotifier(events))
	registry := metrics.NewRegistry(metrics.NewCollector(build.Version, store))

	cfg := &config.Config{
		Server: config.Server{
			Host:            "127.0.0.1",
			ShutdownTimeout: time.Second,
		},
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(cfg, store, orch, graph, events, registry, WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "policity_info")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestRoutesWithoutRegistry(t *testing.T) {
	t.Parallel()

	api, _ := newTestAPI(t)
	srv := &Server{
		config:   &config.Config{},
		api:      api,
		registry: nil,
	}

	r := srv.routes()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
