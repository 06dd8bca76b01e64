package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gator-clubs/internal/cache"
	"gator-clubs/internal/database"
	"gator-clubs/internal/engine"
	"gator-clubs/internal/events"
	"gator-clubs/internal/middleware"
	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	auth   *middleware.JWTAuth
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := utils.NewMetricsCollector()
	eng := engine.NewEngine(actor.NewActorSystem(), database.NewMemoryStore(), &events.Recorder{},
		cache.NewMemoryCache(0), metrics, logger, engine.Config{Shards: 2, RequestTimeout: 5 * time.Second})
	t.Cleanup(eng.Stop)

	auth := middleware.NewJWTAuth("handler-test-secret", logger)
	server := NewServer(eng, metrics, auth, middleware.DefaultCORSConfig(nil), logger, true)
	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)

	return &testServer{t: t, srv: srv, auth: auth, client: srv.Client()}
}

func (ts *testServer) token(userID uuid.UUID, roles ...string) string {
	tok, err := ts.auth.GenerateToken(userID, roles...)
	require.NoError(ts.t, err)
	return tok
}

// do sends a request and decodes the JSON response into out when non-nil.
func (ts *testServer) do(method, path, token string, body interface{}, out interface{}) int {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.client.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) createCommunity(token string, body map[string]interface{}) models.Community {
	ts.t.Helper()
	var c models.Community
	status := ts.do(http.MethodPost, "/communities", token, body, &c)
	require.Equal(ts.t, http.StatusCreated, status)
	return c
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]interface{}
	status := ts.do(http.MethodGet, "/health", "", nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["community_count"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	ts := newTestServer(t)
	var body utils.ErrorBody
	status := ts.do(http.MethodGet, "/discovery", "", nil, &body)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, utils.ErrUnauthorized, body.Error)
}

func TestPublicJoinLeaveFlow(t *testing.T) {
	ts := newTestServer(t)
	creator, member := uuid.New(), uuid.New()
	c := ts.createCommunity(ts.token(creator), map[string]interface{}{
		"name": "swamp hikers", "visibility": "public", "type": "agnostic",
	})
	assert.Equal(t, 1, c.MemberCount)

	memberTok := ts.token(member)
	var join map[string]interface{}
	status := ts.do(http.MethodPost, "/communities/"+c.ID.String()+"/join", memberTok, nil, &join)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "member", join["status"])

	var rel map[string]string
	ts.do(http.MethodGet, "/communities/"+c.ID.String()+"/relationship", memberTok, nil, &rel)
	assert.Equal(t, "member", rel["status"])

	var members []models.Membership
	ts.do(http.MethodGet, "/communities/"+c.ID.String()+"/members", memberTok, nil, &members)
	assert.Len(t, members, 2)

	var left map[string]string
	status = ts.do(http.MethodPost, "/communities/"+c.ID.String()+"/leave", memberTok, nil, &left)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "none", left["status"])

	var got models.Community
	ts.do(http.MethodGet, "/communities/"+c.ID.String(), memberTok, nil, &got)
	assert.Equal(t, 1, got.MemberCount)
}

func TestPrivateApprovalFlow(t *testing.T) {
	ts := newTestServer(t)
	creator, applicant := uuid.New(), uuid.New()
	creatorTok, applicantTok := ts.token(creator), ts.token(applicant)
	c := ts.createCommunity(creatorTok, map[string]interface{}{
		"name": "secret society", "visibility": "private", "type": "agnostic",
	})
	base := "/communities/" + c.ID.String()

	var join map[string]interface{}
	ts.do(http.MethodPost, base+"/join", applicantTok, map[string]string{"message": "hi"}, &join)
	assert.Equal(t, "pending", join["status"])
	requestID, _ := join["requestId"].(string)
	require.NotEmpty(t, requestID)

	var conflict utils.ErrorBody
	status := ts.do(http.MethodPost, base+"/join", applicantTok, nil, &conflict)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, utils.ErrConflict, conflict.Error)

	var forbidden utils.ErrorBody
	status = ts.do(http.MethodGet, base+"/join-requests", applicantTok, nil, &forbidden)
	assert.Equal(t, http.StatusForbidden, status)

	var pending []models.JoinRequest
	status = ts.do(http.MethodGet, base+"/join-requests", creatorTok, nil, &pending)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, pending, 1)
	assert.Equal(t, "hi", pending[0].Message)

	var resolved models.JoinRequest
	status = ts.do(http.MethodPost, "/join-requests/"+requestID+"/resolve", creatorTok, map[string]string{"decision": "approve"}, &resolved)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.JoinRequestApproved, resolved.Status)

	var again utils.ErrorBody
	status = ts.do(http.MethodPost, "/join-requests/"+requestID+"/resolve", creatorTok, map[string]string{"decision": "reject"}, &again)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, utils.ErrInvalidState, again.Error)

	var m models.Membership
	status = ts.do(http.MethodPost, base+"/members/"+applicant.String()+"/promote", creatorTok, nil, &m)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.RoleModerator, m.Role)

	var creatorDemote utils.ErrorBody
	status = ts.do(http.MethodPost, base+"/members/"+creator.String()+"/demote", applicantTok, nil, &creatorDemote)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, utils.ErrInvalidTransition, creatorDemote.Error)
}

func TestLocationBoundJoinOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	creatorTok := ts.token(uuid.New())
	c := ts.createCommunity(creatorTok, map[string]interface{}{
		"name": "null island", "visibility": "public", "type": "location_bound",
		"latitude": 0, "longitude": 0, "radiusKm": 5,
	})
	base := "/communities/" + c.ID.String()

	var missing utils.ErrorBody
	status := ts.do(http.MethodPost, base+"/join", ts.token(uuid.New()), nil, &missing)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, utils.ErrInvalidInput, missing.Error)

	var denied map[string]interface{}
	status = ts.do(http.MethodPost, base+"/join", ts.token(uuid.New()),
		map[string]interface{}{"location": map[string]float64{"lat": 0, "lng": 0.08}}, &denied)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "denied", denied["status"])
	assert.Equal(t, "outside radius", denied["reason"])
}

func TestSubClubRoutes(t *testing.T) {
	ts := newTestServer(t)
	creatorTok := ts.token(uuid.New())
	parent := ts.createCommunity(creatorTok, map[string]interface{}{
		"name": "gators", "visibility": "public", "type": "agnostic",
	})

	var sc models.SubClub
	status := ts.do(http.MethodPost, "/subclubs", creatorTok, map[string]interface{}{
		"name": "gator chess", "visibility": "public", "communityId": parent.ID.String(),
	}, &sc)
	require.Equal(t, http.StatusCreated, status)

	var join map[string]interface{}
	ts.do(http.MethodPost, "/subclubs/"+sc.ID.String()+"/join", ts.token(uuid.New()), nil, &join)
	assert.Equal(t, "denied", join["status"])
	assert.Equal(t, "must join parent community first", join["reason"])

	var got models.SubClub
	status = ts.do(http.MethodGet, "/subclubs/"+sc.ID.String(), creatorTok, nil, &got)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, got.CommunityID)
	assert.Equal(t, parent.ID, *got.CommunityID)
}

func TestDiscoveryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(uuid.New())
	ts.createCommunity(tok, map[string]interface{}{
		"name": "gainesville runners", "visibility": "public", "type": "location_bound",
		"latitude": 29.65, "longitude": -82.32,
	})
	online := ts.createCommunity(tok, map[string]interface{}{
		"name": "online chess", "visibility": "public", "type": "agnostic",
	})

	var activity map[string]string
	status := ts.do(http.MethodPost, "/communities/"+online.ID.String()+"/activity", tok, nil, &activity)
	assert.Equal(t, http.StatusAccepted, status)

	var feed map[string][]map[string]interface{}
	status = ts.do(http.MethodGet, "/discovery?lat=29.65&lng=-82.32", tok, nil, &feed)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, feed["nearby"], 1)
	assert.Len(t, feed["feed"], 2)
	require.NotEmpty(t, feed["trending"])
	trendingTop := feed["trending"][0]["community"].(map[string]interface{})
	assert.Equal(t, "online chess", trendingTop["name"])

	var search map[string][]map[string]interface{}
	ts.do(http.MethodGet, "/discovery?q=chess", tok, nil, &search)
	assert.Len(t, search, 1)
	assert.Len(t, search["search"], 1)

	var bad utils.ErrorBody
	status = ts.do(http.MethodGet, "/discovery?lat=95&lng=0", tok, nil, &bad)
	assert.Equal(t, http.StatusBadRequest, status)
	status = ts.do(http.MethodGet, "/discovery?lat=1", tok, nil, &bad)
	assert.Equal(t, http.StatusBadRequest, status)
	for _, radius := range []string{"NaN", "Inf", "-Inf", "0"} {
		status = ts.do(http.MethodGet, "/discovery?lat=1&lng=1&radiusKm="+radius, tok, nil, &bad)
		assert.Equal(t, http.StatusBadRequest, status, "radiusKm=%s", radius)
		assert.Equal(t, utils.ErrInvalidInput, bad.Error)
	}
}

func TestBadIdentifiers(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(uuid.New())

	var body utils.ErrorBody
	status := ts.do(http.MethodPost, "/communities/not-a-uuid/join", tok, nil, &body)
	assert.Equal(t, http.StatusBadRequest, status)

	status = ts.do(http.MethodGet, "/communities/"+uuid.NewString(), tok, nil, &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, utils.ErrNotFound, body.Error)
}
