package location

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/geocode"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

type failingReverse struct{}

func (failingReverse) ReverseGeocode(ctx context.Context, lat, lon float64) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

type recordingTrigger struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingTrigger) Schedule(ctx context.Context, rideID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, rideID)
	return nil
}

func setup(t *testing.T) (*storage.MemoryStore, models.Ride) {
	t.Helper()
	store := storage.NewMemoryStore()
	r, err := store.Create(context.Background(), "rider1", "A", "B")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return store, r
}

func TestUpdateLocationPersistsCoordinates(t *testing.T) {
	ctx := context.Background()
	store, ride := setup(t)
	u := &Updater{
		Store: store,
		Reverse: &geocode.Static{Reverse: map[string]string{
			"12.34567,76.54321": "Some street, City",
		}},
	}

	got, err := u.UpdateLocation(ctx, ride.ID, 12.34567, 76.54321)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Current == nil || got.Current.Lat != 12.34567 || got.Current.Lon != 76.54321 {
		t.Fatalf("coordinates not persisted: %+v", got.Current)
	}
	if got.Address != "Some street, City" {
		t.Fatalf("address not resolved: %q", got.Address)
	}
}

func TestUpdateLocationSucceedsWhenReverseGeocoderDown(t *testing.T) {
	ctx := context.Background()
	store, ride := setup(t)
	u := &Updater{Store: store, Reverse: failingReverse{}}

	got, err := u.UpdateLocation(ctx, ride.ID, 12.34567, 76.54321)
	if err != nil {
		t.Fatalf("reverse geocode failure must not fail the update: %v", err)
	}
	if got.Current == nil || got.Current.Lat != 12.34567 {
		t.Fatalf("coordinates not persisted: %+v", got.Current)
	}
	if got.Address != "" {
		t.Fatalf("address must stay unchanged, got %q", got.Address)
	}
}

func TestUpdateLocationUnknownRide(t *testing.T) {
	store := storage.NewMemoryStore()
	u := &Updater{Store: store}

	if _, err := u.UpdateLocation(context.Background(), "ghost", 1, 2); !models.IsKind(err, models.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestUpdateLocationValidation(t *testing.T) {
	store, ride := setup(t)
	u := &Updater{Store: store}

	cases := []struct{ lat, lon float64 }{
		{91, 0},
		{-91, 0},
		{0, 181},
		{0, -181},
	}
	for _, c := range cases {
		if _, err := u.UpdateLocation(context.Background(), ride.ID, c.lat, c.lon); !models.IsKind(err, models.KindValidation) {
			t.Fatalf("expected validation_failed for (%f, %f), got %v", c.lat, c.lon, err)
		}
	}
}

func TestMovementScheduledOnlyWhenStarted(t *testing.T) {
	ctx := context.Background()
	store, ride := setup(t)
	trig := &recordingTrigger{}
	u := &Updater{Store: store, Trigger: trig}

	if _, err := u.UpdateLocation(ctx, ride.ID, 1, 2); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(trig.ids) != 0 {
		t.Fatal("requested ride must not trigger simulation")
	}

	_, _ = store.UpdateStatus(ctx, ride.ID, models.StatusRequested, "", models.StatusAccepted, "d1")
	_, _ = store.UpdateStatus(ctx, ride.ID, models.StatusAccepted, "d1", models.StatusStarted, "")

	if _, err := u.UpdateLocation(ctx, ride.ID, 1, 2); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(trig.ids) != 1 || trig.ids[0] != ride.ID {
		t.Fatalf("expected one trigger for %s, got %v", ride.ID, trig.ids)
	}
}
