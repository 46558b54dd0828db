package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const rideColumns = `id, rider_id, COALESCE(driver_id, ''), pickup_location, COALESCE(dropoff_location, ''),
	status, current_lat, current_lon, COALESCE(current_address, ''), COALESCE(payment_ref, ''), lifecycle, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, riderID, pickup, dropoff string) (models.Ride, error) {
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
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides (id, rider_id, pickup_location, dropoff_location, status, lifecycle, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)`,
		r.ID, r.RiderID, r.Pickup, r.Dropoff, string(r.Status), string(r.Lifecycle), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return models.Ride{}, models.Wrap(models.KindInternal, "could not create ride", err)
	}
	return r, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (models.Ride, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE id = $1 AND lifecycle = 'Active'`, id)
	return scanRide(row)
}

func (p *PostgresStore) List(ctx context.Context, f RideFilter) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE lifecycle = 'Active'
		  AND ($1 = '' OR rider_id = $1)
		  AND ($2 = '' OR driver_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at`,
		f.RiderID, f.DriverID, string(f.Status))
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "could not list rides", err)
	}
	defer rows.Close()

	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Wrap(models.KindInternal, "could not list rides", err)
	}
	return out, nil
}

// UpdateStatus is a single conditional UPDATE: the WHERE clause carries the
// expected (status, driver) pair and RowsAffected decides the winner under
// concurrent accept attempts.
func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, fromStatus models.RideStatus, expectDriver string, toStatus models.RideStatus, driverID string) (models.Ride, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides
		SET status = $1,
		    driver_id = COALESCE(NULLIF($2, ''), driver_id),
		    updated_at = $3
		WHERE id = $4
		  AND lifecycle = 'Active'
		  AND status = $5
		  AND COALESCE(driver_id, '') = $6`,
		string(toStatus), driverID, time.Now(), id, string(fromStatus), expectDriver)
	if err != nil {
		return models.Ride{}, models.Wrap(models.KindInternal, "could not update ride status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Ride{}, models.Wrap(models.KindInternal, "could not update ride status", err)
	}
	if n != 1 {
		if _, err := p.Get(ctx, id); err != nil {
			return models.Ride{}, err
		}
		return models.Ride{}, models.E(models.KindConflict, "ride was modified concurrently")
	}
	return p.Get(ctx, id)
}

func (p *PostgresStore) UpdateLocation(ctx context.Context, id string, lat, lon float64, address string) (models.Ride, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides
		SET current_lat = $1,
		    current_lon = $2,
		    current_address = COALESCE(NULLIF($3, ''), current_address),
		    updated_at = $4
		WHERE id = $5
		  AND lifecycle = 'Active'
		  AND status NOT IN ('Completed', 'Cancelled')`,
		lat, lon, address, time.Now(), id)
	if err != nil {
		return models.Ride{}, models.Wrap(models.KindInternal, "could not update ride location", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Ride{}, models.Wrap(models.KindInternal, "could not update ride location", err)
	}
	if n != 1 {
		if _, err := p.Get(ctx, id); err != nil {
			return models.Ride{}, err
		}
		return models.Ride{}, models.E(models.KindPrecondition, "ride is no longer active")
	}
	return p.Get(ctx, id)
}

func (p *PostgresStore) SetPaymentRef(ctx context.Context, id, ref string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE rides SET payment_ref = $1, updated_at = $2 WHERE id = $3`, ref, time.Now(), id)
	if err != nil {
		return models.Wrap(models.KindInternal, "could not store payment ref", err)
	}
	return nil
}

func (p *PostgresStore) Archive(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET lifecycle = 'Archived', updated_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return models.Wrap(models.KindInternal, "could not archive ride", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return models.E(models.KindNotFound, "ride not found")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (models.Ride, error) {
	var (
		r        models.Ride
		status   string
		life     string
		lat, lon sql.NullFloat64
	)
	err := row.Scan(&r.ID, &r.RiderID, &r.DriverID, &r.Pickup, &r.Dropoff,
		&status, &lat, &lon, &r.Address, &r.PaymentRef, &life, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, models.E(models.KindNotFound, "ride not found")
	}
	if err != nil {
		return models.Ride{}, models.Wrap(models.KindInternal, "could not read ride", err)
	}
	r.Status = models.RideStatus(status)
	r.Lifecycle = models.Lifecycle(life)
	if lat.Valid && lon.Valid {
		r.Current = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	return r, nil
}
