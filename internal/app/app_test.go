package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/stars/internal/config"
	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/ledger"
)

func baseConfig() config.Config {
	return config.Config{
		StorageDriver:           config.DriverMemory,
		MinRate:                 1,
		MaxRate:                 5,
		DefaultSource:           "web",
		CacheBackend:            config.CacheMemory,
		EventWebhookTimeoutSecs: 1,
	}
}

func TestOpenMemoryWithCache(t *testing.T) {
	cfg := baseConfig()
	cfg.CacheEnabled = true
	cfg.CacheTTL = time.Minute

	a, err := Open(context.Background(), cfg, nil, Options{})
	require.NoError(t, err)
	defer a.Close(context.Background())

	ctx := context.Background()
	target := domain.Ref{Kind: "post", ID: 1}
	_, err = a.Ledger.Upsert(ctx, target, ledger.Input{Device: "d1", Rate: 4})
	require.NoError(t, err)

	stats, err := a.Ledger.Target(target).Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Count)
}

func TestOpenSQLite(t *testing.T) {
	cfg := baseConfig()
	cfg.StorageDriver = config.DriverSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "stars.db")

	a, err := Open(context.Background(), cfg, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, a.Ledger.Ping(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}

func TestOpenPublishesToWebhook(t *testing.T) {
	var (
		mu    sync.Mutex
		names []ledger.EventName
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev ledger.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			mu.Lock()
			names = append(names, ev.Name)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.EventWebhookURL = srv.URL
	a, err := Open(context.Background(), cfg, nil, Options{Publish: true})
	require.NoError(t, err)

	ctx := context.Background()
	target := domain.Ref{Kind: "post", ID: 1}
	_, err = a.Ledger.Upsert(ctx, target, ledger.Input{Device: "d1", Rate: 4})
	require.NoError(t, err)
	_, err = a.Ledger.Upsert(ctx, target, ledger.Input{Device: "d1", Rate: 2})
	require.NoError(t, err)

	// Close drains the async sink.
	require.NoError(t, a.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ledger.EventName{ledger.EventCreated, ledger.EventUpdated}, names)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	cfg := baseConfig()
	cfg.StorageDriver = "mongo"
	_, err := Open(context.Background(), cfg, nil, Options{})
	assert.Error(t, err)
}

func TestSummaryTTL(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		ttl     time.Duration
		want    time.Duration
	}{
		{"memory forever", config.CacheMemory, 0, 0},
		{"memory bounded", config.CacheMemory, time.Minute, time.Minute},
		{"redis forever is capped", config.CacheRedis, 0, MaxRedisSummaryTTL},
		{"redis bounded", config.CacheRedis, 10 * time.Minute, 10 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.CacheBackend = tt.backend
			cfg.CacheTTL = tt.ttl
			assert.Equal(t, tt.want, summaryTTL(cfg))
		})
	}
}
