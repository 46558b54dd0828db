// Package dispatch orchestrates ride creation, driver matching, and status
// transitions. All authorization and state checks happen here and come back
// as typed outcomes; the store's compare-and-set settles races.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/geocode"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// ProfileDirectory is the slice of the registry the engine needs: profile
// lookup and the driver busy marker.
type ProfileDirectory interface {
	Get(id string) (models.Profile, bool)
	SetAvailable(id string, available bool)
}

// Notifier pushes an assignment to a driver. Best-effort; delivery failures
// never fail the assignment.
type Notifier interface {
	NotifyAssignment(driverID string, a models.Assignment) error
}

// Payments holds and settles fares along the ride lifecycle. Optional.
type Payments interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Release(ctx context.Context, paymentIntentID string) error
}

type Engine struct {
	Store    storage.RideStore
	Geo      geo.Geo
	Geocoder geocode.Geocoder
	Profiles ProfileDirectory
	Notifier Notifier // optional
	Payments Payments // optional

	RadiusKm     float64
	FareCents    int64
	FareCurrency string
	Logger       *slog.Logger
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// RequestRide creates a ride in Requested for the acting rider.
func (e *Engine) RequestRide(ctx context.Context, rider models.Profile, pickup, dropoff string) (models.Ride, error) {
	if rider.Role != models.RoleRider {
		return models.Ride{}, models.E(models.KindPermission, "only rider users may request rides")
	}
	if rider.ID == "" {
		return models.Ride{}, models.E(models.KindValidation, "rider is required")
	}
	if pickup == "" {
		return models.Ride{}, models.E(models.KindValidation, "pickup location is required")
	}

	r, err := e.Store.Create(ctx, rider.ID, pickup, dropoff)
	if err != nil {
		return models.Ride{}, err
	}
	observability.RidesRequested.Inc()
	e.logger().Info("ride requested", "ride_id", r.ID, "rider_id", rider.ID)
	return r, nil
}

// FindAndAssignDriver geocodes the pickup, finds the nearest available
// driver, and assigns them via the store CAS. Geocoding failures downgrade
// to not_found; they are an expected outcome, not a crash.
func (e *Engine) FindAndAssignDriver(ctx context.Context, rideID string) (models.Ride, error) {
	r, err := e.Store.Get(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	if r.Status != models.StatusRequested {
		return models.Ride{}, models.E(models.KindPrecondition, "ride must be in Requested status to assign")
	}

	coord, ok, err := e.Geocoder.Geocode(ctx, r.Pickup)
	if err != nil {
		observability.GeocodeFailures.Inc()
		e.logger().Warn("pickup geocode failed", "ride_id", rideID, "error", err)
	}
	if err != nil || !ok {
		return models.Ride{}, models.E(models.KindNotFound, "pickup location could not be resolved")
	}

	driver, ok := e.Geo.Nearest(coord.Lat, coord.Lon, e.RadiusKm)
	if !ok {
		return models.Ride{}, models.E(models.KindNotFound, "no available drivers within radius")
	}

	updated, err := e.Store.UpdateStatus(ctx, rideID, models.StatusRequested, "", models.StatusAccepted, driver.ID)
	if err != nil {
		return models.Ride{}, err
	}
	e.afterAssignment(ctx, updated)
	return updated, nil
}

// AcceptRide lets a driver claim a Requested ride. Exactly one of several
// concurrent accepts wins; losers get conflict.
func (e *Engine) AcceptRide(ctx context.Context, rideID string, driver models.Profile) (models.Ride, error) {
	if driver.Role != models.RoleDriver {
		return models.Ride{}, models.E(models.KindPermission, "only drivers may accept rides")
	}

	r, err := e.Store.Get(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	if r.Status != models.StatusRequested {
		return models.Ride{}, models.E(models.KindPrecondition, "ride must be requested to be accepted")
	}

	updated, err := e.Store.UpdateStatus(ctx, rideID, models.StatusRequested, "", models.StatusAccepted, driver.ID)
	if err != nil {
		if models.IsKind(err, models.KindConflict) {
			observability.AcceptConflicts.Inc()
			e.logger().Info("accept lost race", "ride_id", rideID, "driver_id", driver.ID)
		}
		return models.Ride{}, err
	}
	e.afterAssignment(ctx, updated)
	return updated, nil
}

// UpdateRideStatus applies a forward transition on behalf of the acting
// profile. Only the assigned driver may move a ride along, except that the
// ride's own rider may cancel while it is still unassigned.
func (e *Engine) UpdateRideStatus(ctx context.Context, rideID string, acting models.Profile, next models.RideStatus) (models.Ride, error) {
	if !models.ValidStatus(next) {
		return models.Ride{}, models.E(models.KindValidation, "unknown ride status")
	}

	r, err := e.Store.Get(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}

	riderCancel := next == models.StatusCancelled && acting.ID == r.RiderID && r.DriverID == ""
	if !riderCancel && (r.DriverID == "" || acting.ID != r.DriverID) {
		return models.Ride{}, models.E(models.KindPermission, "only the assigned driver may update the ride status")
	}
	if !models.CanTransition(r.Status, next) {
		return models.Ride{}, models.E(models.KindPrecondition, "illegal status transition")
	}

	updated, err := e.Store.UpdateStatus(ctx, rideID, r.Status, r.DriverID, next, "")
	if err != nil {
		return models.Ride{}, err
	}
	e.logger().Info("ride status updated", "ride_id", rideID, "from", r.Status, "to", next)

	if next.IsTerminal() {
		e.afterTerminal(ctx, updated, next)
	}
	return updated, nil
}

func (e *Engine) GetRide(ctx context.Context, rideID string) (models.Ride, error) {
	return e.Store.Get(ctx, rideID)
}

func (e *Engine) ListRides(ctx context.Context, f storage.RideFilter) ([]models.Ride, error) {
	return e.Store.List(ctx, f)
}

// ArchiveRide soft-deletes a ride. Archived rides keep their row but
// disappear from reads.
func (e *Engine) ArchiveRide(ctx context.Context, rideID string) error {
	if err := e.Store.Archive(ctx, rideID); err != nil {
		return err
	}
	e.logger().Info("ride archived", "ride_id", rideID)
	return nil
}

// afterAssignment runs the best-effort side effects of a won assignment:
// busy marker, driver notification, fare hold.
func (e *Engine) afterAssignment(ctx context.Context, r models.Ride) {
	observability.MatchesTotal.Inc()
	e.logger().Info("driver assigned", "ride_id", r.ID, "driver_id", r.DriverID)

	if e.Profiles != nil {
		e.Profiles.SetAvailable(r.DriverID, false)
	}
	if e.Notifier != nil {
		a := models.Assignment{RideID: r.ID, DriverID: r.DriverID, Pickup: r.Pickup, Dropoff: r.Dropoff}
		if err := e.Notifier.NotifyAssignment(r.DriverID, a); err != nil {
			e.logger().Warn("assignment notify failed", "ride_id", r.ID, "driver_id", r.DriverID, "error", err)
		}
	}
	if e.Payments != nil {
		ref, err := e.Payments.Hold(ctx, e.fareCents(), e.fareCurrency(), r.RiderID)
		if err != nil {
			e.logger().Warn("fare hold failed", "ride_id", r.ID, "error", err)
			return
		}
		if err := e.Store.SetPaymentRef(ctx, r.ID, ref); err != nil {
			e.logger().Warn("payment ref not stored", "ride_id", r.ID, "error", err)
		}
	}
}

func (e *Engine) afterTerminal(ctx context.Context, r models.Ride, final models.RideStatus) {
	if e.Profiles != nil && r.DriverID != "" {
		e.Profiles.SetAvailable(r.DriverID, true)
	}
	if e.Payments == nil || r.PaymentRef == "" {
		return
	}
	var err error
	if final == models.StatusCompleted {
		err = e.Payments.Capture(ctx, r.PaymentRef)
	} else {
		err = e.Payments.Release(ctx, r.PaymentRef)
	}
	if err != nil {
		e.logger().Warn("fare settlement failed", "ride_id", r.ID, "final", final, "error", err)
	}
}

func (e *Engine) fareCents() int64 {
	if e.FareCents > 0 {
		return e.FareCents
	}
	return 500
}

func (e *Engine) fareCurrency() string {
	if e.FareCurrency != "" {
		return e.FareCurrency
	}
	return "usd"
}
