package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo implements Geo using Redis GEO commands, so the index survives
// restarts and can be shared between the API and the consumer.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(p models.Profile) {
	if p.Role != models.RoleDriver || !p.HasLocation() {
		return
	}
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{
		Longitude: p.Loc.Lon,
		Latitude:  p.Loc.Lat,
		Name:      p.ID,
	}).Result()
	_ = r.client.HSet(r.ctx, metaKey(p.ID), map[string]interface{}{
		"available": strconv.FormatBool(p.Available),
		"updated":   time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Remove(id string) {
	_ = r.client.ZRem(r.ctx, r.key, id).Err()
	_ = r.client.Del(r.ctx, metaKey(id)).Err()
}

// Nearest asks Redis for the closest members within radiusKm sorted ASC and
// returns the first available one. Redis breaks exact ties arbitrarily, so
// members at identical distance are re-ordered by id here.
func (r *RedisGeo) Nearest(lat, lon, radiusKm float64) (models.Profile, bool) {
	res, err := r.client.GeoSearchLocation(r.ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lon,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil || len(res) == 0 {
		return models.Profile{}, false
	}

	var (
		best  models.Profile
		dist  float64
		found bool
	)
	for _, g := range res {
		if found && g.Dist > dist {
			break
		}
		if found && g.Dist == dist && g.Name >= best.ID {
			continue
		}
		m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result()
		if err == nil {
			if v, ok := m["available"]; ok && v != "true" {
				continue
			}
		}
		best = models.Profile{
			ID:        g.Name,
			Role:      models.RoleDriver,
			Loc:       &models.Coord{Lat: g.Latitude, Lon: g.Longitude},
			Available: true,
		}
		dist = g.Dist
		found = true
	}
	return best, found
}

func metaKey(id string) string { return "driver:meta:" + id }
