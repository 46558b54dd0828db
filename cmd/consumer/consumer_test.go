package main

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/ingest"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	lastMeta map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.lastMeta = values
	return nil
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	ev := ingest.DriverLocationEvent{DriverID: "d1", Lat: 1, Lon: 2, Available: true}
	ctx := context.Background()
	start := time.Now()
	if err := updateRedisWithRetry(ctx, f, "drivers_geo", ev, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.lastMeta["available"] != "true" {
		t.Fatalf("availability not written: %+v", f.lastMeta)
	}
}

// The geo index compares the meta field against the literal string "true";
// a raw bool would reach redis as "1" and make every mirrored driver look
// unavailable.
func TestUpdateRedisWithRetry_WritesAvailabilityAsString(t *testing.T) {
	for _, avail := range []bool{true, false} {
		f := &fakeUpdater{}
		ev := ingest.DriverLocationEvent{DriverID: "d1", Lat: 1, Lon: 2, Available: avail}
		if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", ev, 1, time.Millisecond); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := f.lastMeta["available"]; got != strconv.FormatBool(avail) {
			t.Fatalf("available=%v written as %v (%T)", avail, got, got)
		}
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	ev := ingest.DriverLocationEvent{DriverID: "d1", Lat: 1, Lon: 2}
	ctx := context.Background()
	if err := updateRedisWithRetry(ctx, f, "drivers_geo", ev, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
