package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrek-engine/internal/domain"
	"github.com/meditrek-engine/internal/repository"
	"github.com/meditrek-engine/internal/service"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// closeTrackingStore records whether the App released its store.
type closeTrackingStore struct {
	*repository.MemoryStore
	closed int
}

func (s *closeTrackingStore) Close() error {
	s.closed++
	return s.MemoryStore.Close()
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func baseConfig() *domain.Config {
	return &domain.Config{
		Cache:   domain.CacheConfig{MaxItems: 100, DefaultTTL: time.Minute},
		Engine:  domain.EngineConfig{Timezone: "UTC", GraceWindow: 2 * time.Hour},
		Sweep:   domain.SweepConfig{Enabled: true, Spec: "@every 1m", TickWindow: 5 * time.Minute},
		Catalog: domain.CatalogConfig{Source: "embedded"},
		Notify:  domain.NotifyConfig{Log: true, WebSocket: true},
	}
}

func TestNew_DefaultWiring(t *testing.T) {
	store := &closeTrackingStore{MemoryStore: repository.NewMemoryStore()}

	a, err := New(context.Background(), baseConfig(), store, testLogger())
	require.NoError(t, err)

	assert.NotNil(t, a.Engine)
	assert.NotNil(t, a.Sweeper)
	assert.NotNil(t, a.Runner)
	assert.NotNil(t, a.Hub)
	assert.True(t, a.Catalog.IsKnown("warfarin"))

	checks := a.ReadinessChecks()
	require.Contains(t, checks, "store")
	assert.NotContains(t, checks, "cache")
	assert.NoError(t, checks["store"](context.Background()))

	require.NoError(t, a.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
	assert.Equal(t, 1, store.closed)
}

func TestNew_FileCatalogWithoutSweep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	doc := `{
		"medicines": [{"name": "Warfarin"}, {"name": "Aspirin"}],
		"interactions": [{"drugs": ["Warfarin", "Aspirin"], "severity": "HIGH", "description": "bleeding"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg := baseConfig()
	cfg.Catalog = domain.CatalogConfig{Source: "file", Path: path}
	cfg.Sweep.Enabled = false
	cfg.Notify.WebSocket = false

	a, err := New(context.Background(), cfg, repository.NewMemoryStore(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, a.Catalog.RuleCount())
	assert.False(t, a.Catalog.IsKnown("metformin"))
	assert.Nil(t, a.Runner)
	assert.Nil(t, a.Hub)

	require.NoError(t, a.Start())
	require.NoError(t, a.Close(context.Background()))
}

func TestNew_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := baseConfig()
	cfg.Cache.RedisURL = "redis://" + mr.Addr()

	a, err := New(context.Background(), cfg, repository.NewMemoryStore(), testLogger())
	require.NoError(t, err)

	checks := a.ReadinessChecks()
	require.Contains(t, checks, "cache")
	assert.NoError(t, checks["cache"](context.Background()))

	require.NoError(t, a.Close(context.Background()))
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
	}{
		{"unknown catalog source", func(c *domain.Config) { c.Catalog.Source = "s3" }},
		{"missing catalog file", func(c *domain.Config) {
			c.Catalog = domain.CatalogConfig{Source: "file", Path: "/nonexistent/catalog.json"}
		}},
		{"postgres catalog without dsn", func(c *domain.Config) { c.Catalog.Source = "postgres" }},
		{"bad timezone", func(c *domain.Config) { c.Engine.Timezone = "Nowhere/City" }},
		{"predictor without url", func(c *domain.Config) { c.Predictor.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			store := &closeTrackingStore{MemoryStore: repository.NewMemoryStore()}

			_, err := New(context.Background(), cfg, store, testLogger())
			assert.Error(t, err)
			assert.Equal(t, 1, store.closed, "a failed wiring releases the store")
		})
	}

	_, err := New(context.Background(), nil, repository.NewMemoryStore(), testLogger())
	assert.Error(t, err)
	_, err = New(context.Background(), baseConfig(), nil, testLogger())
	assert.Error(t, err)
}

func TestNew_SweepRemindsThroughConfiguredChannels(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, time.March, 1, 7, 0, 0, 0, time.UTC)}
	cfg := baseConfig()
	cfg.Sweep.Enabled = false

	a, err := New(context.Background(), cfg, repository.NewMemoryStore(), testLogger(), WithClock(clock))
	require.NoError(t, err)
	defer a.Close(context.Background())

	ctx := context.Background()
	entry, err := a.Engine.AddRegimenEntry(ctx, service.AddRegimenEntryRequest{
		PatientID:    "p-1",
		MedicineName: "Metformin",
	})
	require.NoError(t, err)
	_, err = a.Engine.AddSchedule(ctx, service.AddScheduleRequest{
		RegimenEntryID: entry.ID,
		Dose:           "500 mg",
		TimeOfDay:      "08:00",
	})
	require.NoError(t, err)

	clock.Set(time.Date(2024, time.March, 1, 8, 2, 0, 0, time.UTC))
	report := a.Sweeper.Tick(ctx)
	a.Sweeper.Wait()

	assert.Empty(t, report.Errors)
	assert.Equal(t, 1, report.Reminded)
	assert.Equal(t, 0, report.AutoMissed)
}
