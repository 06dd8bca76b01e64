package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gator-clubs/internal/engine"
	"gator-clubs/internal/middleware"
	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

// Server holds all server dependencies
type Server struct {
	Engine         *engine.Engine
	Metrics        *utils.MetricsCollector
	Auth           *middleware.JWTAuth
	CORS           *middleware.CORSConfig
	Log            *zap.Logger
	MetricsEnabled bool
}

// NewServer creates a new Server instance with the given components
func NewServer(
	eng *engine.Engine,
	metrics *utils.MetricsCollector,
	auth *middleware.JWTAuth,
	cors *middleware.CORSConfig,
	logger *zap.Logger,
	metricsEnabled bool,
) *Server {
	return &Server{
		Engine:         eng,
		Metrics:        metrics,
		Auth:           auth,
		CORS:           cors,
		Log:            logger,
		MetricsEnabled: metricsEnabled,
	}
}

// Routes builds the router. Everything except /health needs a bearer token.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(s.Log, s.Metrics))
	r.Use(middleware.CORSMiddleware(s.CORS))
	r.Use(s.Auth.Middleware)

	r.Get("/health", s.HandleHealth())
	r.Get("/discovery", s.HandleDiscovery())

	r.Post("/communities", s.HandleCreateCommunity())
	r.Post("/subclubs", s.HandleCreateSubClub())
	r.Post("/join-requests/{requestId}/resolve", s.HandleResolveJoinRequest())

	r.Route("/communities/{id}", func(cr chi.Router) {
		cr.Get("/", s.HandleGetCommunity())
		cr.Post("/activity", s.HandleRecordActivity())
		s.subjectRoutes(cr, models.SubjectCommunity)
	})
	r.Route("/subclubs/{id}", func(sr chi.Router) {
		sr.Get("/", s.HandleGetSubClub())
		s.subjectRoutes(sr, models.SubjectSubClub)
	})
	return r
}

// subjectRoutes mounts the membership endpoints shared by both subject kinds.
func (s *Server) subjectRoutes(r chi.Router, kind models.SubjectType) {
	r.Post("/join", s.HandleJoin(kind))
	r.Post("/leave", s.HandleLeave(kind))
	r.Get("/relationship", s.HandleRelationship(kind))
	r.Get("/members", s.HandleMembers(kind))
	r.Get("/join-requests", s.HandleListJoinRequests(kind))
	r.Post("/members/{userId}/promote", s.HandlePromote(kind))
	r.Post("/members/{userId}/demote", s.HandleDemote(kind))
}

func principal(r *http.Request) (models.Principal, error) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return models.Principal{}, utils.NewAppError(utils.ErrUnauthorized, "authentication required", nil)
	}
	return p, nil
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, utils.NewInvalidInputError("invalid " + param + " format")
	}
	return id, nil
}

func subjectRef(r *http.Request, kind models.SubjectType) (models.SubjectRef, error) {
	id, err := pathUUID(r, "id")
	if err != nil {
		return models.SubjectRef{}, err
	}
	return models.SubjectRef{Type: kind, ID: id}, nil
}

// decodeJSON decodes an optional body; an empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return utils.NewAppError(utils.ErrInvalidInput, "Invalid request body", err)
}

// fail writes err and logs it when it is an internal failure.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if utils.AppErrorToHTTPStatus(utils.ErrorCode(err)) >= http.StatusInternalServerError {
		s.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.Error(err))
	}
	utils.WriteError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	utils.WriteJSON(w, status, v)
}
