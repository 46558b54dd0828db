// Package location applies ride location updates: persist coordinates,
// resolve a display address best-effort, and kick off movement simulation
// for rides that are underway.
package location

import (
	"context"
	"log/slog"
	"math"

	"github.com/example/ride-dispatch/internal/geocode"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Trigger schedules movement simulation for a ride. Fire-and-forget;
// duplicate schedules are tolerable.
type Trigger interface {
	Schedule(ctx context.Context, rideID string) error
}

type Updater struct {
	Store   storage.RideStore
	Reverse geocode.ReverseGeocoder // optional
	Trigger Trigger                 // optional
	Logger  *slog.Logger
}

func (u *Updater) logger() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}

// UpdateLocation writes coordinates to the ride. Reverse geocoding is
// best-effort: an unreachable service leaves the stored address unchanged
// and the update still succeeds.
func (u *Updater) UpdateLocation(ctx context.Context, rideID string, lat, lon float64) (models.Ride, error) {
	if err := validateCoords(lat, lon); err != nil {
		return models.Ride{}, err
	}

	address := ""
	if u.Reverse != nil {
		addr, ok, err := u.Reverse.ReverseGeocode(ctx, lat, lon)
		if err != nil || !ok {
			observability.GeocodeFailures.Inc()
			u.logger().Warn("reverse geocode unavailable", "ride_id", rideID, "error", err)
		} else {
			address = addr
		}
	}

	r, err := u.Store.UpdateLocation(ctx, rideID, lat, lon, address)
	if err != nil {
		return models.Ride{}, err
	}

	if r.Status == models.StatusStarted && u.Trigger != nil {
		if err := u.Trigger.Schedule(ctx, r.ID); err != nil {
			u.logger().Warn("movement trigger enqueue failed", "ride_id", r.ID, "error", err)
		} else {
			observability.MovementEnqueued.Inc()
		}
	}
	return r, nil
}

func validateCoords(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return models.E(models.KindValidation, "coordinates must be numeric")
	}
	if lat < -90 || lat > 90 {
		return models.E(models.KindValidation, "latitude must be between -90 and 90")
	}
	if lon < -180 || lon > 180 {
		return models.E(models.KindValidation, "longitude must be between -180 and 180")
	}
	return nil
}
