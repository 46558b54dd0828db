// Package registry tracks profiles fed in by the identity system: who they
// are, where they were last seen, and whether a driver is free to take work.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

type Registry struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
	geo      geo.Geo // optional; kept in sync on driver location changes
}

func New(g geo.Geo) *Registry {
	return &Registry{profiles: make(map[string]models.Profile), geo: g}
}

// Upsert stores a profile as supplied by the identity system. New drivers
// start out available.
func (r *Registry) Upsert(p models.Profile) {
	r.mu.Lock()
	if prev, ok := r.profiles[p.ID]; ok {
		p.Available = prev.Available
		if p.Loc == nil {
			p.Loc = prev.Loc
		}
	} else if p.Role == models.RoleDriver {
		p.Available = true
	}
	p.Updated = time.Now()
	r.profiles[p.ID] = p
	r.mu.Unlock()

	r.sync(p)
}

func (r *Registry) Get(id string) (models.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	return p, ok
}

// SetLocation updates a profile's last-known coordinates.
func (r *Registry) SetLocation(id string, lat, lon float64) (models.Profile, bool) {
	r.mu.Lock()
	p, ok := r.profiles[id]
	if !ok {
		r.mu.Unlock()
		return models.Profile{}, false
	}
	p.Loc = &models.Coord{Lat: lat, Lon: lon}
	p.Updated = time.Now()
	r.profiles[id] = p
	r.mu.Unlock()

	r.sync(p)
	return p, true
}

// SetAvailable flips a driver's busy marker. No-op for unknown profiles.
func (r *Registry) SetAvailable(id string, available bool) {
	r.mu.Lock()
	p, ok := r.profiles[id]
	if !ok || p.Role != models.RoleDriver {
		r.mu.Unlock()
		return
	}
	p.Available = available
	p.Updated = time.Now()
	r.profiles[id] = p
	r.mu.Unlock()

	r.sync(p)
}

// Drivers returns all known drivers sorted by id.
func (r *Registry) Drivers() []models.Profile {
	r.mu.RLock()
	out := make([]models.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		if p.Role == models.RoleDriver {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) sync(p models.Profile) {
	if r.geo == nil || p.Role != models.RoleDriver {
		return
	}
	if p.HasLocation() {
		r.geo.Upsert(p)
	}
}
