package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// RideFilter narrows List results. Zero values match everything.
type RideFilter struct {
	RiderID  string
	DriverID string
	Status   models.RideStatus
}

// RideStore defines persistence operations for rides.
//
// UpdateStatus is the single concurrency-control point for ride mutation:
// it succeeds only if the ride's (status, driver) still match the expected
// pair, so two concurrent accepts on the same ride produce exactly one
// winner. The loser gets a conflict error, never a silent overwrite.
type RideStore interface {
	Create(ctx context.Context, riderID, pickup, dropoff string) (models.Ride, error)
	Get(ctx context.Context, id string) (models.Ride, error)
	List(ctx context.Context, f RideFilter) ([]models.Ride, error)
	UpdateStatus(ctx context.Context, id string, fromStatus models.RideStatus, expectDriver string, toStatus models.RideStatus, driverID string) (models.Ride, error)
	UpdateLocation(ctx context.Context, id string, lat, lon float64, address string) (models.Ride, error)
	SetPaymentRef(ctx context.Context, id, ref string) error
	Archive(ctx context.Context, id string) error
}

// MemoryStore keeps rides in a mutex-guarded map. The CAS in UpdateStatus
// is the same check-then-set the Postgres store expresses as a conditional
// UPDATE, held under the store lock.
type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]models.Ride)}
}

func (m *MemoryStore) Create(ctx context.Context, riderID, pickup, dropoff string) (models.Ride, error) {
	now := time.Now()
	r := models.Ride{
		ID:        models.NewID(),
		RiderID:   riderID,
		Pickup:    pickup,
		Dropoff:   dropoff,
		Status:    models.StatusRequested,
		Lifecycle: models.LifecycleActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	m.rides[r.ID] = r
	m.mu.Unlock()
	return r, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (models.Ride, error) {
	m.mu.RLock()
	r, ok := m.rides[id]
	m.mu.RUnlock()
	if !ok || r.Lifecycle != models.LifecycleActive {
		return models.Ride{}, models.E(models.KindNotFound, "ride not found")
	}
	return r, nil
}

func (m *MemoryStore) List(ctx context.Context, f RideFilter) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ride, 0, len(m.rides))
	for _, r := range m.rides {
		if r.Lifecycle != models.LifecycleActive {
			continue
		}
		if f.RiderID != "" && r.RiderID != f.RiderID {
			continue
		}
		if f.DriverID != "" && r.DriverID != f.DriverID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, fromStatus models.RideStatus, expectDriver string, toStatus models.RideStatus, driverID string) (models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rides[id]
	if !ok || r.Lifecycle != models.LifecycleActive {
		return models.Ride{}, models.E(models.KindNotFound, "ride not found")
	}
	if r.Status != fromStatus || r.DriverID != expectDriver {
		return models.Ride{}, models.E(models.KindConflict, "ride was modified concurrently")
	}
	r.Status = toStatus
	if driverID != "" {
		r.DriverID = driverID
	}
	r.UpdatedAt = time.Now()
	m.rides[id] = r
	return r, nil
}

func (m *MemoryStore) UpdateLocation(ctx context.Context, id string, lat, lon float64, address string) (models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rides[id]
	if !ok || r.Lifecycle != models.LifecycleActive {
		return models.Ride{}, models.E(models.KindNotFound, "ride not found")
	}
	if r.Status.IsTerminal() {
		return models.Ride{}, models.E(models.KindPrecondition, "ride is no longer active")
	}
	r.Current = &models.Coord{Lat: lat, Lon: lon}
	if address != "" {
		r.Address = address
	}
	r.UpdatedAt = time.Now()
	m.rides[id] = r
	return r, nil
}

func (m *MemoryStore) SetPaymentRef(ctx context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rides[id]
	if !ok {
		return models.E(models.KindNotFound, "ride not found")
	}
	r.PaymentRef = ref
	r.UpdatedAt = time.Now()
	m.rides[id] = r
	return nil
}

func (m *MemoryStore) Archive(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rides[id]
	if !ok {
		return models.E(models.KindNotFound, "ride not found")
	}
	r.Lifecycle = models.LifecycleArchived
	r.UpdatedAt = time.Now()
	m.rides[id] = r
	return nil
}
