// Package discovery ranks communities for the discovery feed. Every
// function is pure: inputs are never reordered and results are new slices.
package discovery

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"gator-clubs/internal/geo"
	"gator-clubs/internal/models"
)

const DefaultNearbyRadiusKm = 10.0

// Entry is one ranked community. DistanceKm is set by Nearby; Score by
// Trending.
type Entry struct {
	Community  *models.Community `json:"community"`
	DistanceKm *float64          `json:"distanceKm,omitempty"`
	Score      *int              `json:"score,omitempty"`
}

func entries(communities []*models.Community) []Entry {
	out := make([]Entry, len(communities))
	for i, c := range communities {
		out[i] = Entry{Community: c}
	}
	return out
}

// Trending scores member_count + 2 * posts in the window; newer wins ties.
// postsInWindow is keyed by community id; missing ids count as zero.
func Trending(communities []*models.Community, postsInWindow map[uuid.UUID]int) []Entry {
	out := entries(communities)
	for i := range out {
		score := out[i].Community.MemberCount + 2*postsInWindow[out[i].Community.ID]
		out[i].Score = &score
	}
	sort.SliceStable(out, func(i, j int) bool {
		if *out[i].Score != *out[j].Score {
			return *out[i].Score > *out[j].Score
		}
		return out[i].Community.CreatedAt.After(out[j].Community.CreatedAt)
	})
	return out
}

// Nearby keeps location-bound communities within radiusKm (inclusive) of
// user, closest first. A non-positive radius means DefaultNearbyRadiusKm.
func Nearby(communities []*models.Community, user geo.Point, radiusKm float64) []Entry {
	if radiusKm <= 0 {
		radiusKm = DefaultNearbyRadiusKm
	}
	out := make([]Entry, 0)
	for _, c := range communities {
		if c.Type != models.TypeLocationBound {
			continue
		}
		center, ok := c.GetLocation()
		if !ok {
			continue
		}
		d := geo.DistanceKm(center, user)
		if d <= radiusKm {
			out = append(out, Entry{Community: c, DistanceKm: &d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].DistanceKm < *out[j].DistanceKm })
	return out
}

// Popular sorts by member_count descending with name ascending on ties,
// then id, so the order never depends on the input order.
func Popular(communities []*models.Community) []Entry {
	out := entries(communities)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Community, out[j].Community
		if a.MemberCount != b.MemberCount {
			return a.MemberCount > b.MemberCount
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID.String() < b.ID.String()
	})
	return out
}

func Latest(communities []*models.Community) []Entry {
	out := entries(communities)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Community.CreatedAt.After(out[j].Community.CreatedAt)
	})
	return out
}

type matchTier int

const (
	tierName matchTier = iota
	tierDescription
	tierLocation
	tierNone
)

func tierOf(c *models.Community, q string) matchTier {
	switch {
	case strings.Contains(strings.ToLower(c.Name), q):
		return tierName
	case strings.Contains(strings.ToLower(c.Description), q):
		return tierDescription
	case strings.Contains(strings.ToLower(c.LocationName), q):
		return tierLocation
	}
	return tierNone
}

// Search matches query case-insensitively against name, description and
// location. Name matches rank first, then description, then location;
// member_count descending within a tier. A blank query matches nothing.
func Search(communities []*models.Community, query string) []Entry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []Entry{}
	}
	type hit struct {
		entry Entry
		tier  matchTier
	}
	hits := make([]hit, 0)
	for _, c := range communities {
		if t := tierOf(c, q); t != tierNone {
			hits = append(hits, hit{Entry{Community: c}, t})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].tier != hits[j].tier {
			return hits[i].tier < hits[j].tier
		}
		return hits[i].entry.Community.MemberCount > hits[j].entry.Community.MemberCount
	})
	out := make([]Entry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out
}

// Section names in aggregation priority order.
const (
	SectionTrending = "trending"
	SectionNearby   = "nearby"
	SectionPopular  = "popular"
	SectionLatest   = "latest"
)

// FeedItem is an aggregated entry tagged with the section it came from.
type FeedItem struct {
	Entry
	Section string `json:"section"`
}

// Aggregate concatenates trending, nearby, popular and latest, emitting
// each community once under the first section it appears in.
func Aggregate(trending, nearby, popular, latest []Entry) []FeedItem {
	seen := make(map[uuid.UUID]struct{})
	out := make([]FeedItem, 0, len(trending)+len(nearby)+len(popular)+len(latest))
	add := func(section string, list []Entry) {
		for _, e := range list {
			if _, dup := seen[e.Community.ID]; dup {
				continue
			}
			seen[e.Community.ID] = struct{}{}
			out = append(out, FeedItem{Entry: e, Section: section})
		}
	}
	add(SectionTrending, trending)
	add(SectionNearby, nearby)
	add(SectionPopular, popular)
	add(SectionLatest, latest)
	return out
}

type Options struct {
	UserLocation *geo.Point
	Query        string
	RadiusKm     float64
	// Limit caps each section and the feed; zero means no cap.
	Limit         int
	PostsInWindow map[uuid.UUID]int
}

// Feed is the discovery response. Search is set instead of the sections
// when a query was given.
type Feed struct {
	Trending []Entry    `json:"trending"`
	Nearby   []Entry    `json:"nearby"`
	Popular  []Entry    `json:"popular"`
	Latest   []Entry    `json:"latest"`
	Feed     []FeedItem `json:"feed"`
	Search   []Entry    `json:"search,omitempty"`
}

// MarshalJSON emits either the sections or {"search": [...]}.
func (f Feed) MarshalJSON() ([]byte, error) {
	if f.Search != nil {
		return json.Marshal(struct {
			Search []Entry `json:"search"`
		}{f.Search})
	}
	type sections Feed
	return json.Marshal(sections(f))
}

func top[T any](list []T, n int) []T {
	if n <= 0 || len(list) <= n {
		return list
	}
	return list[:n]
}

// Build ranks every section and slices to opts.Limit after ranking.
// Nearby is empty without a user location.
func Build(communities []*models.Community, opts Options) Feed {
	if strings.TrimSpace(opts.Query) != "" {
		return Feed{Search: top(Search(communities, opts.Query), opts.Limit)}
	}

	nearby := []Entry{}
	if opts.UserLocation != nil {
		nearby = Nearby(communities, *opts.UserLocation, opts.RadiusKm)
	}
	f := Feed{
		Trending: top(Trending(communities, opts.PostsInWindow), opts.Limit),
		Nearby:   top(nearby, opts.Limit),
		Popular:  top(Popular(communities), opts.Limit),
		Latest:   top(Latest(communities), opts.Limit),
	}
	f.Feed = top(Aggregate(f.Trending, f.Nearby, f.Popular, f.Latest), opts.Limit)
	return f
}
