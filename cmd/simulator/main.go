package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"gator-clubs/internal/geo"
	"gator-clubs/simulator"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	config := simulator.SimConfig{
		NumUsers:       200,
		NumCommunities: 20,
		SimulationTime: 5 * time.Minute,
		TickInterval:   500 * time.Millisecond,
		Workers:        8,
		PrivateRatio:   0.3,
		LocationRatio:  0.4,
		JoinRate:       0.2,
		LeaveRate:      0.05,
		PostRate:       0.1,
		DiscoveryRate:  0.05,
		ApproveRatio:   0.7,
		ZipfS:          1.07,
		Center:         geo.Point{Lat: 29.6516, Lng: -82.3248},
		SpreadKm:       15,
		EngineURL:      envOr("ENGINE_URL", "http://localhost:8080"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
	}
	if config.JWTSecret == "" {
		logger.Fatal("JWT_SECRET must match the engine's secret")
	}

	logger.Info("starting simulation",
		zap.String("engine_url", config.EngineURL),
		zap.Int("users", config.NumUsers),
		zap.Int("communities", config.NumCommunities),
		zap.Duration("duration", config.SimulationTime),
		zap.Float64("zipf_s", config.ZipfS),
	)

	sim := simulator.NewLoadSimulator(config, logger)
	ctx, cancel := context.WithTimeout(context.Background(), config.SimulationTime)
	defer cancel()

	if err := sim.Run(ctx); err != nil {
		logger.Fatal("simulation failed", zap.Error(err))
	}

	verifyCtx, verifyCancel := context.WithTimeout(context.Background(), time.Minute)
	defer verifyCancel()
	if err := sim.Verify(verifyCtx); err != nil {
		logger.Error("verification failed", zap.Error(err))
	}

	m := sim.GetMetrics()
	logger.Info("simulation completed",
		zap.Int("users", m.TotalUsers),
		zap.Int("communities", m.TotalCommunities),
		zap.Int("joins", m.Joins),
		zap.Int("pending", m.Pending),
		zap.Int("denied", m.Denied),
		zap.Int("leaves", m.Leaves),
		zap.Int("approved", m.Approved),
		zap.Int("rejected", m.Rejected),
		zap.Int("posts", m.Posts),
		zap.Int("errors", m.ErrorCount),
		zap.Duration("avg_latency", m.AverageLatency),
	)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
