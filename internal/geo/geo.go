package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Geo is the minimal spatial interface required by the dispatch engine.
type Geo interface {
	Nearest(lat, lon, radiusKm float64) (models.Profile, bool)
	Upsert(p models.Profile)
	Remove(id string)
}

// Index is the in-memory driver index. A naive scan is fine at this scale;
// in prod use Redis GEO (see RedisGeo) or a geo-hash structure.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Profile
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Profile)}
}

func (g *Index) Upsert(p models.Profile) {
	if p.Role != models.RoleDriver {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p.Updated = time.Now()
	g.drivers[p.ID] = p
}

func (g *Index) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, id)
}

// Nearest returns the available driver with the smallest haversine distance
// to the query point, restricted to radiusKm. Ties go to the smallest
// driver id so results are deterministic.
func (g *Index) Nearest(lat, lon, radiusKm float64) (models.Profile, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var (
		best     models.Profile
		bestDist float64
		found    bool
	)
	for _, d := range g.drivers {
		if !d.Available || !d.HasLocation() {
			continue
		}
		dist := HaversineKm(lat, lon, d.Loc.Lat, d.Loc.Lon)
		if dist > radiusKm {
			continue
		}
		if !found || dist < bestDist || (dist == bestDist && d.ID < best.ID) {
			best = d
			bestDist = dist
			found = true
		}
	}
	return best, found
}

// HaversineKm returns the great-circle distance in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
