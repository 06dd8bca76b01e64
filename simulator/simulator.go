package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gator-clubs/internal/geo"
	"gator-clubs/internal/middleware"
	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

type SimConfig struct {
	NumUsers       int
	NumCommunities int
	SimulationTime time.Duration
	TickInterval   time.Duration
	Workers        int

	// Fractions of communities created private or location-bound.
	PrivateRatio  float64
	LocationRatio float64

	// Per-user probabilities per tick.
	JoinRate      float64
	LeaveRate     float64
	PostRate      float64
	DiscoveryRate float64

	// ApproveRatio is the share of pending requests creators approve.
	ApproveRatio float64
	ZipfS        float64

	// Center is where location-bound communities and users are placed.
	Center    geo.Point
	SpreadKm  float64
	EngineURL string
	JWTSecret string
}

func (c *SimConfig) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 500 * time.Millisecond
	}
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.ZipfS <= 1 {
		c.ZipfS = 1.07
	}
	if c.SpreadKm <= 0 {
		c.SpreadKm = 15
	}
}

type SimulationStats struct {
	mu              sync.RWMutex
	StartTime       time.Time
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	AverageLatency  time.Duration
	Joins           int
	Pending         int
	Denied          int
	Leaves          int
	Approved        int
	Rejected        int
	Posts           int
	Discoveries     int
}

type SimulatedUser struct {
	ID       uuid.UUID
	Token    string
	Location geo.Point
}

type simCommunity struct {
	ID        uuid.UUID
	Name      string
	CreatorID uuid.UUID
	Private   bool
}

// LoadSimulator drives the engine over HTTP the way a population of users
// would: joining popular communities far more often than obscure ones.
type LoadSimulator struct {
	config      SimConfig
	stats       *SimulationStats
	users       []*SimulatedUser
	communities []*simCommunity
	byUser      map[uuid.UUID]*SimulatedUser
	client      *http.Client
	auth        *middleware.JWTAuth
	log         *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
	zipf  *rand.Zipf
}

func NewLoadSimulator(config SimConfig, logger *zap.Logger) *LoadSimulator {
	config.applyDefaults()
	return &LoadSimulator{
		config: config,
		stats:  &SimulationStats{StartTime: time.Now()},
		byUser: make(map[uuid.UUID]*SimulatedUser),
		client: &http.Client{Timeout: 10 * time.Second},
		auth:   middleware.NewJWTAuth(config.JWTSecret, logger),
		log:    logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *LoadSimulator) Run(ctx context.Context) error {
	s.log.Info("starting simulation")

	if err := s.initialize(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.SimulateActivities(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.collectMetrics(ctx)
	}()

	wg.Wait()
	return nil
}

func (s *LoadSimulator) initialize(ctx context.Context) error {
	s.log.Info("phase 1: creating users", zap.Int("users", s.config.NumUsers))
	if err := s.createUsers(); err != nil {
		return fmt.Errorf("failed to create users: %w", err)
	}

	s.log.Info("phase 2: creating communities", zap.Int("communities", s.config.NumCommunities))
	if err := s.createCommunities(ctx); err != nil {
		return fmt.Errorf("failed to create communities: %w", err)
	}

	s.zipf = rand.NewZipf(s.rng, s.config.ZipfS, 1, uint64(len(s.communities)-1))
	s.log.Info("initialization completed")
	return nil
}

// createUsers mints a token per user; identities come from the token alone.
func (s *LoadSimulator) createUsers() error {
	if s.config.NumUsers <= 0 {
		return fmt.Errorf("at least one user is required")
	}
	s.users = make([]*SimulatedUser, 0, s.config.NumUsers)
	for i := 0; i < s.config.NumUsers; i++ {
		id := uuid.New()
		token, err := s.auth.GenerateToken(id)
		if err != nil {
			return err
		}
		u := &SimulatedUser{ID: id, Token: token, Location: s.randomPoint()}
		s.users = append(s.users, u)
		s.byUser[id] = u
	}
	return nil
}

func (s *LoadSimulator) createCommunities(ctx context.Context) error {
	if s.config.NumCommunities <= 0 {
		return fmt.Errorf("at least one community is required")
	}
	for i := 0; i < s.config.NumCommunities; i++ {
		creator := s.users[s.intn(len(s.users))]
		body := map[string]interface{}{
			"name":        fmt.Sprintf("%s %d", getRandomTheme(s.intn), i),
			"description": "simulated community",
			"visibility":  models.VisibilityPublic,
			"type":        models.TypeAgnostic,
		}
		private := s.chance(s.config.PrivateRatio)
		if private {
			body["visibility"] = models.VisibilityPrivate
		}
		if s.chance(s.config.LocationRatio) {
			center := s.randomPoint()
			body["type"] = models.TypeLocationBound
			body["latitude"] = center.Lat
			body["longitude"] = center.Lng
			body["radiusKm"] = s.config.SpreadKm
		}

		var created models.Community
		if _, err := s.makeRequest(ctx, http.MethodPost, "/communities", creator.Token, body, &created); err != nil {
			return err
		}
		s.communities = append(s.communities, &simCommunity{
			ID: created.ID, Name: created.Name, CreatorID: creator.ID, Private: private,
		})
	}
	return nil
}

var themes = []string{"Gators", "Chess", "Hiking", "Robotics", "Film", "Cooking", "Running", "Jazz"}

func getRandomTheme(intn func(int) int) string {
	return themes[intn(len(themes))]
}

// randomPoint scatters points around the configured center. One degree of
// latitude is about 111 km.
func (s *LoadSimulator) randomPoint() geo.Point {
	spreadDeg := s.config.SpreadKm / 111.0
	return geo.Point{
		Lat: s.config.Center.Lat + (s.randFloat()*2-1)*spreadDeg,
		Lng: s.config.Center.Lng + (s.randFloat()*2-1)*spreadDeg,
	}
}

// popularCommunity picks a community with Zipf-skewed popularity.
func (s *LoadSimulator) popularCommunity() *simCommunity {
	s.rngMu.Lock()
	idx := s.zipf.Uint64()
	s.rngMu.Unlock()
	return s.communities[idx]
}

func (s *LoadSimulator) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

func (s *LoadSimulator) randFloat() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *LoadSimulator) chance(p float64) bool {
	return p > 0 && s.randFloat() < p
}

// requestError is a non-2xx response from the engine.
type requestError struct {
	Status int
	Body   utils.ErrorBody
}

func (e *requestError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s %s", e.Status, e.Body.Error, e.Body.Message)
}

// makeRequest sends a JSON request and decodes a 2xx response into out.
func (s *LoadSimulator) makeRequest(ctx context.Context, method, endpoint, token string, data, out interface{}) (int, error) {
	var body []byte
	if data != nil {
		var err error
		if body, err = json.Marshal(data); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.EngineURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.recordRequestMetrics(start, err)
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err == nil && resp.StatusCode >= 400 {
		reqErr := &requestError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, &reqErr.Body)
		err = reqErr
	}
	s.recordRequestMetrics(start, err)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *LoadSimulator) recordRequestMetrics(start time.Time, err error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	latency := time.Since(start)
	s.stats.TotalRequests++
	if err != nil {
		s.stats.FailedRequests++
	} else {
		s.stats.SuccessRequests++
	}

	totalLatency := s.stats.AverageLatency * time.Duration(s.stats.TotalRequests-1)
	s.stats.AverageLatency = (totalLatency + latency) / time.Duration(s.stats.TotalRequests)
}

func (s *LoadSimulator) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := s.GetMetrics()
			s.log.Info("simulation metrics",
				zap.Float64("req_per_sec", m.RequestsPerSecond),
				zap.Duration("avg_latency", m.AverageLatency),
				zap.Int("joins", m.Joins),
				zap.Int("pending", m.Pending),
				zap.Int("denied", m.Denied),
				zap.Int("leaves", m.Leaves),
				zap.Int("approved", m.Approved),
				zap.Int("rejected", m.Rejected),
				zap.Int("errors", m.ErrorCount),
			)
		}
	}
}

// SimulationMetrics is a point-in-time copy of the simulation counters.
type SimulationMetrics struct {
	TotalUsers        int
	TotalCommunities  int
	Joins             int
	Pending           int
	Denied            int
	Leaves            int
	Approved          int
	Rejected          int
	Posts             int
	Discoveries       int
	AverageLatency    time.Duration
	ErrorCount        int
	RequestsPerSecond float64
}

func (s *LoadSimulator) GetMetrics() SimulationMetrics {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	elapsed := time.Since(s.stats.StartTime)
	return SimulationMetrics{
		TotalUsers:        len(s.users),
		TotalCommunities:  len(s.communities),
		Joins:             s.stats.Joins,
		Pending:           s.stats.Pending,
		Denied:            s.stats.Denied,
		Leaves:            s.stats.Leaves,
		Approved:          s.stats.Approved,
		Rejected:          s.stats.Rejected,
		Posts:             s.stats.Posts,
		Discoveries:       s.stats.Discoveries,
		AverageLatency:    s.stats.AverageLatency,
		ErrorCount:        int(s.stats.FailedRequests),
		RequestsPerSecond: float64(s.stats.TotalRequests) / elapsed.Seconds(),
	}
}
