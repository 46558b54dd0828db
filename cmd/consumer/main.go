package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/simulate"
	"github.com/example/ride-dispatch/internal/storage"
)

var (
	locationsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_locations_consumed_total",
		Help: "Total driver location messages consumed",
	})
	movementsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_movements_consumed_total",
		Help: "Total movement trigger messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(locationsConsumed, movementsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

func main() {
	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := []string{"localhost:9092"}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(v, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	locationTopic := envOr("KAFKA_LOCATION_TOPIC", "driver-locations")
	movementTopic := envOr("KAFKA_MOVEMENT_TOPIC", "ride-movement")
	group := envOr("KAFKA_GROUP", "ride-dispatch-consumer")
	geoKey := envOr("REDIS_GEO_KEY", "drivers_geo")

	redisAddr := envOr("REDIS_ADDR", "localhost:6379")
	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	radapter := &redisAdapter{c: rc}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: locationTopic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
		defer r.Close()
		log.Printf("location mirror listening topic=%s brokers=%v group=%s", locationTopic, brokers, group)
		runLocationMirror(ctx, r, radapter, geoKey)
	}()

	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		store, err := storage.NewPostgresStore(dsn)
		if err != nil {
			log.Fatalf("postgres unavailable: %v", err)
		}
		sim := &simulate.Simulator{
			Store:    store,
			Steps:    envInt("MOVEMENT_STEPS", 5),
			Interval: envDuration("MOVEMENT_INTERVAL", 2*time.Second),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: movementTopic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
			defer r.Close()
			log.Printf("movement worker listening topic=%s", movementTopic)
			runMovementWorker(ctx, r, sim)
		}()
	} else {
		log.Println("PG_DSN not set, movement worker disabled")
	}

	wg.Wait()
	_ = rc.Close()
}

// messageReader is the subset of kafka.Reader the loops need.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func runLocationMirror(ctx context.Context, r messageReader, rc RedisUpdater, geoKey string) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down location mirror")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		locationsConsumed.Inc()

		var ev ingest.DriverLocationEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.DriverID == "" {
			msgsInvalid.Inc()
			log.Printf("invalid location message: %v", err)
			continue
		}

		if err := updateRedisWithRetry(ctx, rc, geoKey, ev, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			log.Printf("redis update failed for driver=%s: %v", ev.DriverID, err)
			continue
		}
		redisUpdates.Inc()
	}
}

func runMovementWorker(ctx context.Context, r messageReader, sim *simulate.Simulator) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down movement worker")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		movementsConsumed.Inc()

		var trig ingest.MovementTrigger
		if err := json.Unmarshal(m.Value, &trig); err != nil || trig.RideID == "" {
			msgsInvalid.Inc()
			log.Printf("invalid movement message: %v", err)
			continue
		}

		// each ride moves independently; triggers are fire-and-forget
		go func(rideID string) {
			if err := sim.Run(ctx, rideID); err != nil && ctx.Err() == nil {
				log.Printf("movement simulation failed for ride=%s: %v", rideID, err)
			}
		}(trig.RideID)
	}
}

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

// updateRedisWithRetry folds a driver location event into the geo index with retry/backoff.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, geoKey string, ev ingest.DriverLocationEvent, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		if err := rc.GeoAdd(ctx, geoKey, &redis.GeoLocation{Longitude: ev.Lon, Latitude: ev.Lat, Name: ev.DriverID}); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		// availability must round-trip as the string the matcher compares against
		if err := rc.HSet(ctx, "driver:meta:"+ev.DriverID, map[string]interface{}{"available": strconv.FormatBool(ev.Available)}); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
