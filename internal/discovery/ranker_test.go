package discovery

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gator-clubs/internal/geo"
	"gator-clubs/internal/models"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func community(name string, members int, ageDays int) *models.Community {
	return &models.Community{
		ID:          uuid.New(),
		Name:        name,
		Visibility:  models.VisibilityPublic,
		Type:        models.TypeAgnostic,
		MemberCount: members,
		CreatedAt:   epoch.Add(-time.Duration(ageDays) * 24 * time.Hour),
	}
}

func located(name string, lat, lng float64) *models.Community {
	c := community(name, 1, 1)
	c.Type = models.TypeLocationBound
	c.Latitude, c.Longitude = &lat, &lng
	c.RadiusKm = 5
	return c
}

func names(list []Entry) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.Community.Name
	}
	return out
}

func TestTrendingScoresPostsTwice(t *testing.T) {
	a := community("a", 10, 5)
	b := community("b", 4, 5)
	c := community("c", 10, 1)
	posts := map[uuid.UUID]int{b.ID: 4}

	got := Trending([]*models.Community{a, b, c}, posts)
	// b: 4+8=12; c and a tie at 10, c is newer
	assert.Equal(t, []string{"b", "c", "a"}, names(got))
	assert.Equal(t, 12, *got[0].Score)
}

func TestNearbyFiltersAndSorts(t *testing.T) {
	far := located("far", 0, 0.08)
	near := located("near", 0, 0.01)
	mid := located("mid", 0, 0.05)
	plain := community("plain", 100, 1)

	got := Nearby([]*models.Community{far, plain, mid, near}, geo.Point{}, 0)
	assert.Equal(t, []string{"near", "mid", "far"}, names(got))
	require.NotNil(t, got[0].DistanceKm)

	got = Nearby([]*models.Community{far, mid, near}, geo.Point{}, 3)
	assert.Equal(t, []string{"near"}, names(got))
}

func TestPopularIsDeterministic(t *testing.T) {
	x := community("zeta", 5, 1)
	y := community("alpha", 5, 2)
	z := community("mid", 9, 3)

	first := Popular([]*models.Community{x, y, z})
	second := Popular([]*models.Community{y, z, x})
	assert.Equal(t, []string{"mid", "alpha", "zeta"}, names(first))
	assert.Equal(t, names(first), names(second))
}

func TestLatest(t *testing.T) {
	old := community("old", 1, 30)
	fresh := community("fresh", 1, 0)
	got := Latest([]*models.Community{old, fresh})
	assert.Equal(t, []string{"fresh", "old"}, names(got))
}

func TestSearchTiers(t *testing.T) {
	byName := community("Chess Club", 1, 1)
	byDesc := community("Board games", 50, 1)
	byDesc.Description = "chess and checkers"
	byLoc := community("Thursday nights", 99, 1)
	byLoc.LocationName = "Chessington"
	bigName := community("chess masters", 7, 1)
	miss := community("Running", 500, 1)

	got := Search([]*models.Community{miss, byLoc, byDesc, byName, bigName}, "  CHESS ")
	assert.Equal(t, []string{"chess masters", "Chess Club", "Board games", "Thursday nights"}, names(got))
	assert.Empty(t, Search([]*models.Community{byName}, "   "))
}

func TestRankersDoNotMutateInput(t *testing.T) {
	in := []*models.Community{community("b", 1, 2), community("a", 2, 1)}
	before := []string{in[0].Name, in[1].Name}
	Popular(in)
	Latest(in)
	Trending(in, nil)
	assert.Equal(t, before, []string{in[0].Name, in[1].Name})
}

func TestAggregateDeduplicatesByPriority(t *testing.T) {
	shared := community("shared", 10, 1)
	onlyPopular := community("popular-only", 3, 1)
	onlyLatest := community("latest-only", 0, 0)

	feed := Aggregate(
		[]Entry{{Community: shared}},
		nil,
		[]Entry{{Community: onlyPopular}, {Community: shared}},
		[]Entry{{Community: onlyLatest}, {Community: shared}},
	)
	require.Len(t, feed, 3)
	assert.Equal(t, "shared", feed[0].Community.Name)
	assert.Equal(t, SectionTrending, feed[0].Section)
	assert.Equal(t, SectionPopular, feed[1].Section)
	assert.Equal(t, SectionLatest, feed[2].Section)
}

func TestBuildFeedAndSearch(t *testing.T) {
	all := []*models.Community{
		community("alpha", 3, 3),
		community("beta", 2, 2),
		located("gamma", 0, 0.01),
	}

	f := Build(all, Options{UserLocation: &geo.Point{}, Limit: 2})
	assert.Len(t, f.Trending, 2)
	assert.Len(t, f.Popular, 2)
	assert.Equal(t, []string{"gamma"}, names(f.Nearby))
	assert.Len(t, f.Feed, 2)
	assert.Nil(t, f.Search)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	var sections map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &sections))
	assert.Contains(t, sections, "trending")
	assert.NotContains(t, sections, "search")

	s := Build(all, Options{Query: "beta"})
	assert.Equal(t, []string{"beta"}, names(s.Search))
	data, err = json.Marshal(s)
	require.NoError(t, err)
	var searchOnly map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &searchOnly))
	assert.Len(t, searchOnly, 1)
	assert.Contains(t, searchOnly, "search")
}

func TestBuildWithoutLocationHasEmptyNearby(t *testing.T) {
	f := Build([]*models.Community{located("gamma", 0, 0)}, Options{})
	assert.NotNil(t, f.Nearby)
	assert.Empty(t, f.Nearby)
}
