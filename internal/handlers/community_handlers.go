package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

// CreateCommunityRequest represents a request to create a new community
type CreateCommunityRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Visibility  string   `json:"visibility"`
	Type        string   `json:"type"`
	Location    string   `json:"location"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	RadiusKm    float64  `json:"radiusKm"`
	Tags        []string `json:"tags"`
}

// CreateSubClubRequest adds the parent community to the community shape.
// An omitted type inherits the parent's settings.
type CreateSubClubRequest struct {
	CreateCommunityRequest
	CommunityID      *string `json:"communityId"`
	SeekingCommunity bool    `json:"seekingCommunity"`
}

func (s *Server) HandleCreateCommunity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var req CreateCommunityRequest
		if err := decodeJSON(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}

		created, err := s.Engine.CreateCommunity(r.Context(), p, models.Community{
			Name:         req.Name,
			Description:  req.Description,
			Visibility:   models.Visibility(req.Visibility),
			Type:         models.CommunityType(req.Type),
			LocationName: req.Location,
			Latitude:     req.Latitude,
			Longitude:    req.Longitude,
			RadiusKm:     req.RadiusKm,
			Tags:         req.Tags,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func (s *Server) HandleCreateSubClub() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var req CreateSubClubRequest
		if err := decodeJSON(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}

		sc := models.SubClub{
			SeekingCommunity: req.SeekingCommunity,
			Name:             req.Name,
			Description:      req.Description,
			Visibility:       models.Visibility(req.Visibility),
			Type:             models.CommunityType(req.Type),
			LocationName:     req.Location,
			Latitude:         req.Latitude,
			Longitude:        req.Longitude,
			RadiusKm:         req.RadiusKm,
			Tags:             req.Tags,
		}
		if req.CommunityID != nil && *req.CommunityID != "" {
			parentID, err := uuid.Parse(*req.CommunityID)
			if err != nil {
				s.fail(w, r, utils.NewInvalidInputError("invalid communityId format"))
				return
			}
			sc.CommunityID = &parentID
		}

		created, err := s.Engine.CreateSubClub(r.Context(), p, sc)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func (s *Server) HandleGetCommunity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "id")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		c, err := s.Engine.GetCommunity(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func (s *Server) HandleGetSubClub() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "id")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		sc, err := s.Engine.GetSubClub(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sc)
	}
}
