package handlers

import (
	"net/http"

	"gator-clubs/internal/geo"
	"gator-clubs/internal/models"
)

// JoinRequestBody carries the optional location and message of a join.
type JoinRequestBody struct {
	Location *geo.Point `json:"location"`
	Message  string     `json:"message"`
}

type ResolveRequestBody struct {
	Decision string `json:"decision"`
}

type statusResponse struct {
	Status models.Relationship `json:"status"`
}

// HandleJoin returns {status: member|pending|denied}; an existing member
// gets its current status back.
func (s *Server) HandleJoin(kind models.SubjectType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ref, err := subjectRef(r, kind)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var body JoinRequestBody
		if err := decodeJSON(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}

		result, err := s.Engine.Join(r.Context(), ref, p, body.Location, body.Message)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) HandleLeave(kind models.SubjectType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ref, err := subjectRef(r, kind)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		rel, err := s.Engine.Leave(r.Context(), ref, p)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{Status: rel})
	}
}

func (s *Server) HandleRelationship(kind models.SubjectType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ref, err := subjectRef(r, kind)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		rel, err := s.Engine.Relationship(r.Context(), ref, p.UserID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{Status: rel})
	}
}

func (s *Server) HandleMembers(kind models.SubjectType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := subjectRef(r, kind)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		members, err := s.Engine.Members(r.Context(), ref)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, members)
	}
}

func (s *Server) HandleListJoinRequests(kind models.SubjectType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ref, err := subjectRef(r, kind)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		pending, err := s.Engine.ListPending(r.Context(), ref, p)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pending)
	}
}

func (s *Server) HandleResolveJoinRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		requestID, err := pathUUID(r, "requestId")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var body ResolveRequestBody
		if err := decodeJSON(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}

		jr, err := s.Engine.Resolve(r.Context(), requestID, p, models.Decision(body.Decision))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, jr)
	}
}

func (s *Server) HandlePromote(kind models.SubjectType) http.HandlerFunc {
	return s.handleRoleChange(kind, true)
}

func (s *Server) HandleDemote(kind models.SubjectType) http.HandlerFunc {
	return s.handleRoleChange(kind, false)
}

func (s *Server) handleRoleChange(kind models.SubjectType, promote bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ref, err := subjectRef(r, kind)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		target, err := pathUUID(r, "userId")
		if err != nil {
			s.fail(w, r, err)
			return
		}

		var m *models.Membership
		if promote {
			m, err = s.Engine.Promote(r.Context(), ref, p, target)
		} else {
			m, err = s.Engine.Demote(r.Context(), ref, p, target)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}
