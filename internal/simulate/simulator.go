// Package simulate nudges a ride's coordinates along in small steps, the
// cosmetic stand-in for a real driver feed. It writes straight through the
// ride store and stops as soon as the ride leaves the Started state.
package simulate

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

const defaultStepDelta = 0.0001

type Simulator struct {
	Store    storage.RideStore
	Steps    int
	Interval time.Duration
	Delta    float64
	Logger   *slog.Logger
}

func (s *Simulator) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Simulator) delta() float64 {
	if s.Delta > 0 {
		return s.Delta
	}
	return defaultStepDelta
}

// Run performs the movement steps for one ride. It is safe to call for a
// ride that has since finished: the store rejects location writes on
// terminal rides and the loop stops there.
func (s *Simulator) Run(ctx context.Context, rideID string) error {
	r, err := s.Store.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if r.Status != models.StatusStarted || r.Current == nil {
		s.logger().Debug("simulation skipped", "ride_id", rideID, "status", r.Status)
		return nil
	}

	lat, lon := r.Current.Lat, r.Current.Lon
	for i := 0; i < s.Steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.Interval):
		}

		lat += s.delta()
		lon += s.delta()
		if _, err := s.Store.UpdateLocation(ctx, rideID, lat, lon, ""); err != nil {
			if models.IsKind(err, models.KindPrecondition) || models.IsKind(err, models.KindNotFound) {
				s.logger().Debug("simulation stopped", "ride_id", rideID, "step", i)
				return nil
			}
			return err
		}
	}
	return nil
}
