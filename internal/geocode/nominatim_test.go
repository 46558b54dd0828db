package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *NominatimClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewNominatimClient(srv.URL, "ride-dispatch-test", 2*time.Second)
}

func TestGeocodeHit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("User-Agent") != "ride-dispatch-test" {
			t.Errorf("missing user agent")
		}
		if r.URL.Query().Get("limit") != "1" {
			t.Errorf("expected limit=1")
		}
		w.Write([]byte(`[{"lat":"12.9716","lon":"77.5946"}]`))
	})

	coord, ok, err := c.Geocode(context.Background(), "123 Main St")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if coord.Lat != 12.9716 || coord.Lon != 77.5946 {
		t.Fatalf("unexpected coord: %+v", coord)
	}
}

func TestGeocodeNoResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, ok, err := c.Geocode(context.Background(), "nowhere")
	if err != nil {
		t.Fatalf("no result must not be an error: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestGeocodeUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	if _, _, err := c.Geocode(context.Background(), "x"); err == nil {
		t.Fatal("expected error on non-200")
	}
}

func TestReverseGeocode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"display_name":"Some street, City"}`))
	})

	addr, ok, err := c.ReverseGeocode(context.Background(), 12.9716, 77.5946)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if addr != "Some street, City" {
		t.Fatalf("unexpected address %q", addr)
	}
}

type countingGeocoder struct {
	calls int
	coord models.Coord
	found bool
	err   error
}

func (c *countingGeocoder) Geocode(ctx context.Context, address string) (models.Coord, bool, error) {
	c.calls++
	return c.coord, c.found, c.err
}

func TestCachedGeocoderCachesHitsAndMisses(t *testing.T) {
	inner := &countingGeocoder{coord: models.Coord{Lat: 1, Lon: 2}, found: true}
	g := &CachedGeocoder{Inner: inner, Cache: NewCache(time.Minute)}

	for i := 0; i < 3; i++ {
		coord, ok, err := g.Geocode(context.Background(), "addr")
		if err != nil || !ok || coord.Lat != 1 {
			t.Fatalf("unexpected result: %+v ok=%v err=%v", coord, ok, err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", inner.calls)
	}

	inner2 := &countingGeocoder{found: false}
	g2 := &CachedGeocoder{Inner: inner2, Cache: NewCache(time.Minute)}
	for i := 0; i < 3; i++ {
		if _, ok, _ := g2.Geocode(context.Background(), "unknown"); ok {
			t.Fatal("expected miss")
		}
	}
	if inner2.calls != 1 {
		t.Fatalf("negative results must be cached, got %d calls", inner2.calls)
	}
}

func TestCachedGeocoderDoesNotCacheErrors(t *testing.T) {
	inner := &countingGeocoder{err: errors.New("timeout")}
	g := &CachedGeocoder{Inner: inner, Cache: NewCache(time.Minute)}

	for i := 0; i < 2; i++ {
		if _, _, err := g.Geocode(context.Background(), "addr"); err == nil {
			t.Fatal("expected error")
		}
	}
	if inner.calls != 2 {
		t.Fatalf("errors must not be cached, got %d calls", inner.calls)
	}
}
