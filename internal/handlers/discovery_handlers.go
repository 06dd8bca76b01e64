package handlers

import (
	"math"
	"net/http"
	"strconv"

	"gator-clubs/internal/engine"
	"gator-clubs/internal/geo"
	"gator-clubs/internal/utils"
)

const (
	defaultDiscoveryLimit = 20
	maxDiscoveryLimit     = 100
)

// HandleDiscovery serves GET /discovery?lat=&lng=&q=&radiusKm=&limit=.
// lat and lng must be given together.
func (s *Server) HandleDiscovery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseDiscoveryQuery(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		feed, err := s.Engine.Discovery(r.Context(), q)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, feed)
	}
}

func parseDiscoveryQuery(r *http.Request) (engine.DiscoveryQuery, error) {
	values := r.URL.Query()
	q := engine.DiscoveryQuery{Query: values.Get("q"), Limit: defaultDiscoveryLimit}

	lat, lng := values.Get("lat"), values.Get("lng")
	if (lat == "") != (lng == "") {
		return q, utils.NewInvalidInputError("lat and lng must be given together")
	}
	if lat != "" {
		latF, err1 := strconv.ParseFloat(lat, 64)
		lngF, err2 := strconv.ParseFloat(lng, 64)
		if err1 != nil || err2 != nil {
			return q, utils.NewInvalidInputError("lat and lng must be numbers")
		}
		p := geo.Point{Lat: latF, Lng: lngF}
		if err := p.Validate(); err != nil {
			return q, utils.NewAppError(utils.ErrInvalidInput, "invalid location", err)
		}
		q.UserLocation = &p
	}

	if v := values.Get("radiusKm"); v != "" {
		radius, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(radius) || math.IsInf(radius, 0) || radius <= 0 {
			return q, utils.NewInvalidInputError("radiusKm must be a positive number")
		}
		q.RadiusKm = radius
	}

	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return q, utils.NewInvalidInputError("limit must be a positive integer")
		}
		if limit > maxDiscoveryLimit {
			limit = maxDiscoveryLimit
		}
		q.Limit = limit
	}
	return q, nil
}
