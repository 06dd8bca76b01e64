package simulator

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gator-clubs/internal/cache"
	"gator-clubs/internal/database"
	"gator-clubs/internal/engine"
	"gator-clubs/internal/events"
	"gator-clubs/internal/geo"
	"gator-clubs/internal/handlers"
	"gator-clubs/internal/middleware"
	"gator-clubs/internal/utils"
)

const testSecret = "simulator-secret"

func startEngine(t *testing.T) string {
	t.Helper()
	logger := zap.NewNop()
	metrics := utils.NewMetricsCollector()
	eng := engine.NewEngine(actor.NewActorSystem(), database.NewMemoryStore(), &events.Recorder{},
		cache.NewMemoryCache(time.Second), metrics, logger, engine.Config{Shards: 4})
	t.Cleanup(eng.Stop)

	server := handlers.NewServer(eng, metrics, middleware.NewJWTAuth(testSecret, logger),
		middleware.DefaultCORSConfig(nil), logger, false)
	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestSimulationKeepsCountsConsistent(t *testing.T) {
	sim := NewLoadSimulator(SimConfig{
		NumUsers:       20,
		NumCommunities: 4,
		TickInterval:   20 * time.Millisecond,
		Workers:        4,
		PrivateRatio:   0.5,
		LocationRatio:  0.5,
		JoinRate:       0.8,
		LeaveRate:      0.3,
		PostRate:       0.2,
		DiscoveryRate:  0.1,
		ApproveRatio:   0.5,
		Center:         geo.Point{Lat: 29.65, Lng: -82.32},
		EngineURL:      startEngine(t),
		JWTSecret:      testSecret,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	require.NoError(t, sim.Run(ctx))

	require.NoError(t, sim.Verify(context.Background()))
	m := sim.GetMetrics()
	assert.Equal(t, 20, m.TotalUsers)
	assert.Equal(t, 4, m.TotalCommunities)
	assert.Positive(t, m.Joins+m.Pending+m.Denied)
}

func TestRunNeedsUsers(t *testing.T) {
	sim := NewLoadSimulator(SimConfig{NumCommunities: 1, EngineURL: "http://127.0.0.1:1", JWTSecret: testSecret}, zap.NewNop())
	assert.Error(t, sim.Run(context.Background()))
}
