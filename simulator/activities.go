package simulator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

type joinResponse struct {
	Status string     `json:"status"`
	Reason string     `json:"reason"`
	ID     *uuid.UUID `json:"requestId"`
}

// SimulateActivities runs user churn and moderation until ctx is done.
func (s *LoadSimulator) SimulateActivities(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateChurn(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateModeration(ctx)
	}()

	wg.Wait()
}

// simulateChurn hands every user to a worker pool once per tick; each
// worker rolls the configured rates to decide what the user does.
func (s *LoadSimulator) simulateChurn(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	jobs := make(chan *SimulatedUser, len(s.users))
	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for user := range jobs {
				s.act(ctx, user)
			}
		}()
	}
	defer wg.Wait()
	defer close(jobs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, user := range s.users {
				select {
				case jobs <- user:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *LoadSimulator) act(ctx context.Context, user *SimulatedUser) {
	if s.chance(s.config.JoinRate) {
		s.join(ctx, user, s.popularCommunity())
	}
	if s.chance(s.config.LeaveRate) {
		s.leave(ctx, user, s.communities[s.intn(len(s.communities))])
	}
	if s.chance(s.config.PostRate) {
		c := s.popularCommunity()
		if _, err := s.makeRequest(ctx, http.MethodPost, "/communities/"+c.ID.String()+"/activity", user.Token, nil, nil); err == nil {
			s.count(func(st *SimulationStats) { st.Posts++ })
		}
	}
	if s.chance(s.config.DiscoveryRate) {
		endpoint := fmt.Sprintf("/discovery?lat=%f&lng=%f&limit=10", user.Location.Lat, user.Location.Lng)
		if _, err := s.makeRequest(ctx, http.MethodGet, endpoint, user.Token, nil, nil); err == nil {
			s.count(func(st *SimulationStats) { st.Discoveries++ })
		}
	}
}

func (s *LoadSimulator) join(ctx context.Context, user *SimulatedUser, c *simCommunity) {
	body := map[string]interface{}{
		"location": user.Location,
		"message":  "let me in",
	}
	var res joinResponse
	_, err := s.makeRequest(ctx, http.MethodPost, "/communities/"+c.ID.String()+"/join", user.Token, body, &res)
	if err != nil {
		if !expected(err, utils.ErrConflict) {
			s.log.Debug("join failed", zap.Stringer("community", c.ID), zap.Error(err))
		}
		return
	}
	switch res.Status {
	case "member":
		s.count(func(st *SimulationStats) { st.Joins++ })
	case "pending":
		s.count(func(st *SimulationStats) { st.Pending++ })
	case "denied":
		s.count(func(st *SimulationStats) { st.Denied++ })
	}
}

func (s *LoadSimulator) leave(ctx context.Context, user *SimulatedUser, c *simCommunity) {
	_, err := s.makeRequest(ctx, http.MethodPost, "/communities/"+c.ID.String()+"/leave", user.Token, nil, nil)
	if err != nil {
		if !expected(err, utils.ErrInvalidTransition) {
			s.log.Debug("leave failed", zap.Stringer("community", c.ID), zap.Error(err))
		}
		return
	}
	s.count(func(st *SimulationStats) { st.Leaves++ })
}

// simulateModeration has each private community's creator work through its
// pending queue, approving ApproveRatio of requests.
func (s *LoadSimulator) simulateModeration(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range s.communities {
				if c.Private {
					s.moderate(ctx, c)
				}
			}
		}
	}
}

func (s *LoadSimulator) moderate(ctx context.Context, c *simCommunity) {
	creator := s.byUser[c.CreatorID]
	var pending []models.JoinRequest
	if _, err := s.makeRequest(ctx, http.MethodGet, "/communities/"+c.ID.String()+"/join-requests", creator.Token, nil, &pending); err != nil {
		s.log.Debug("list join requests failed", zap.Stringer("community", c.ID), zap.Error(err))
		return
	}

	for _, jr := range pending {
		decision := models.DecisionReject
		if s.chance(s.config.ApproveRatio) {
			decision = models.DecisionApprove
		}
		endpoint := "/join-requests/" + jr.ID.String() + "/resolve"
		_, err := s.makeRequest(ctx, http.MethodPost, endpoint, creator.Token, map[string]string{"decision": string(decision)}, nil)
		if err != nil {
			if !expected(err, utils.ErrInvalidState) {
				s.log.Debug("resolve failed", zap.Stringer("request", jr.ID), zap.Error(err))
			}
			continue
		}
		if decision == models.DecisionApprove {
			s.count(func(st *SimulationStats) { st.Approved++ })
		} else {
			s.count(func(st *SimulationStats) { st.Rejected++ })
		}
	}
}

// Verify checks that every community's member_count matches its member list.
func (s *LoadSimulator) Verify(ctx context.Context) error {
	token := s.users[0].Token
	var mismatches []string
	for _, c := range s.communities {
		var community models.Community
		if _, err := s.makeRequest(ctx, http.MethodGet, "/communities/"+c.ID.String(), token, nil, &community); err != nil {
			return err
		}
		var members []models.Membership
		if _, err := s.makeRequest(ctx, http.MethodGet, "/communities/"+c.ID.String()+"/members", token, nil, &members); err != nil {
			return err
		}
		if community.MemberCount != len(members) {
			mismatches = append(mismatches, fmt.Sprintf("%s: member_count=%d members=%d", c.Name, community.MemberCount, len(members)))
		}
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("member counts out of sync: %v", mismatches)
	}
	s.log.Info("member counts verified", zap.Int("communities", len(s.communities)))
	return nil
}

func (s *LoadSimulator) count(fn func(*SimulationStats)) {
	s.stats.mu.Lock()
	fn(s.stats)
	s.stats.mu.Unlock()
}

// expected reports whether err is an engine rejection with the given code.
// Such rejections are normal under concurrent churn.
func expected(err error, code string) bool {
	var reqErr *requestError
	return errors.As(err, &reqErr) && reqErr.Body.Error == code
}
