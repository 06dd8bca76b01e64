package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	tests := []struct {
		name string
		a, b Point
		want float64
	}{
		{"same point", Point{0, 0}, Point{0, 0}, 0},
		{"0.03 deg of longitude at equator", Point{0, 0}, Point{0, 0.03}, 3.336},
		{"0.08 deg of longitude at equator", Point{0, 0}, Point{0, 0.08}, 8.896},
		{"paris to london", Point{48.8566, 2.3522}, Point{51.5074, -0.1278}, 343.5},
		{"antipodes", Point{0, 0}, Point{0, 180}, 20015.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DistanceKm(tt.a, tt.b), 0.5)
		})
	}
}

func TestDistanceKmIsSymmetric(t *testing.T) {
	points := []Point{{0, 0}, {29.6516, -82.3248}, {-33.8688, 151.2093}, {90, 0}, {-90, 180}}
	for _, a := range points {
		assert.Equal(t, 0.0, DistanceKm(a, a))
		for _, b := range points {
			assert.InDelta(t, DistanceKm(a, b), DistanceKm(b, a), 1e-9)
			assert.GreaterOrEqual(t, DistanceKm(a, b), 0.0)
		}
	}
}

func TestPointValidate(t *testing.T) {
	assert.NoError(t, Point{90, 180}.Validate())
	assert.NoError(t, Point{-90, -180}.Validate())
	assert.Error(t, Point{90.1, 0}.Validate())
	assert.Error(t, Point{0, -180.5}.Validate())
}
