package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestCreateForcesRequested(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	r, err := m.Create(ctx, "rider1", "123 Main St", "456 Elm St")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != models.StatusRequested {
		t.Fatalf("expected Requested, got %s", r.Status)
	}
	if r.DriverID != "" {
		t.Fatal("driver must be unset at creation")
	}
	if r.Lifecycle != models.LifecycleActive {
		t.Fatalf("expected Active lifecycle, got %s", r.Lifecycle)
	}
}

func TestGetMissAndArchived(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if _, err := m.Get(ctx, "nope"); !models.IsKind(err, models.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}

	r, _ := m.Create(ctx, "rider1", "A", "B")
	if err := m.Archive(ctx, r.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := m.Get(ctx, r.ID); !models.IsKind(err, models.KindNotFound) {
		t.Fatalf("archived rides must read as not_found, got %v", err)
	}
}

func TestUpdateStatusCAS(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r, _ := m.Create(ctx, "rider1", "A", "B")

	got, err := m.UpdateStatus(ctx, r.ID, models.StatusRequested, "", models.StatusAccepted, "d1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != models.StatusAccepted || got.DriverID != "d1" {
		t.Fatalf("unexpected ride after accept: %+v", got)
	}

	// second accept sees stale (status, driver) expectation
	if _, err := m.UpdateStatus(ctx, r.ID, models.StatusRequested, "", models.StatusAccepted, "d2"); !models.IsKind(err, models.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConcurrentAcceptExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r, _ := m.Create(ctx, "rider1", "A", "B")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		driverID := fmt.Sprintf("d%d", i)
		wg.Add(1)
		go func(did string) {
			defer wg.Done()
			_, err := m.UpdateStatus(ctx, r.ID, models.StatusRequested, "", models.StatusAccepted, did)
			errs <- err
		}(driverID)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !models.IsKind(err, models.KindConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	got, err := m.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusAccepted || got.DriverID == "" {
		t.Fatalf("unexpected final ride: %+v", got)
	}
}

func TestUpdateLocation(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r, _ := m.Create(ctx, "rider1", "A", "B")

	got, err := m.UpdateLocation(ctx, r.ID, 12.34567, 76.54321, "Some street, City")
	if err != nil {
		t.Fatalf("update location: %v", err)
	}
	if got.Current == nil || got.Current.Lat != 12.34567 || got.Current.Lon != 76.54321 {
		t.Fatalf("coordinates not persisted: %+v", got.Current)
	}
	if got.Address != "Some street, City" {
		t.Fatalf("address not persisted: %q", got.Address)
	}

	// empty address leaves the previous one in place
	got, err = m.UpdateLocation(ctx, r.ID, 12.4, 76.6, "")
	if err != nil {
		t.Fatalf("update location: %v", err)
	}
	if got.Address != "Some street, City" {
		t.Fatalf("empty address must not clear the stored one, got %q", got.Address)
	}
}

func TestUpdateLocationTerminalRide(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r, _ := m.Create(ctx, "rider1", "A", "B")
	_, _ = m.UpdateStatus(ctx, r.ID, models.StatusRequested, "", models.StatusCancelled, "")

	if _, err := m.UpdateLocation(ctx, r.ID, 1, 2, ""); !models.IsKind(err, models.KindPrecondition) {
		t.Fatalf("expected precondition_failed on terminal ride, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r1, _ := m.Create(ctx, "rider1", "A", "B")
	_, _ = m.Create(ctx, "rider2", "C", "D")
	_, _ = m.UpdateStatus(ctx, r1.ID, models.StatusRequested, "", models.StatusAccepted, "d1")

	all, _ := m.List(ctx, RideFilter{})
	if len(all) != 2 {
		t.Fatalf("expected 2 rides, got %d", len(all))
	}
	byDriver, _ := m.List(ctx, RideFilter{DriverID: "d1"})
	if len(byDriver) != 1 || byDriver[0].ID != r1.ID {
		t.Fatalf("driver filter failed: %+v", byDriver)
	}
	byStatus, _ := m.List(ctx, RideFilter{Status: models.StatusRequested})
	if len(byStatus) != 1 || byStatus[0].RiderID != "rider2" {
		t.Fatalf("status filter failed: %+v", byStatus)
	}
}
