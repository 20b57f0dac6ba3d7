package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/taxi-dispatch/internal/models"
)

// RedisGeo is an optional proximity backend over Redis GEO commands. The
// location store writes through to it when configured; reads fall back to
// the in-memory scan when Redis is unavailable.
type RedisGeo struct {
	client *redis.Client
	key    string
	window time.Duration
}

func NewRedisGeo(addr, password, key string, window time.Duration) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, window: window}
}

// NewRedisGeoWithClient wraps an existing client, mainly for tests.
func NewRedisGeoWithClient(c *redis.Client, key string, window time.Duration) *RedisGeo {
	return &RedisGeo{client: c, key: key, window: window}
}

func (r *RedisGeo) Upsert(ctx context.Context, s models.LocationSample) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: s.Coord.Lng,
		Latitude:  s.Coord.Lat,
		Name:      s.DriverID,
	}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(s.DriverID), map[string]interface{}{
		"status":  string(s.Status),
		"updated": s.Timestamp.Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Remove(ctx context.Context, driverID string) error {
	if err := r.client.ZRem(ctx, r.key, driverID).Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, metaKey(driverID)).Err()
}

// Nearby returns online drivers within radiusMeters ordered by distance.
// Entries whose meta marks them offline, or whose last update fell
// outside the staleness window, are skipped. Errors degrade to an empty
// result; the caller treats Redis as a cache.
func (r *RedisGeo) Nearby(c models.Coord, radiusMeters float64, limit int) []models.NearbyDriver {
	ctx := context.Background()
	res, err := r.client.GeoRadius(ctx, r.key, c.Lng, c.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	now := time.Now()
	out := make([]models.NearbyDriver, 0, len(res))
	for _, g := range res {
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil && len(m) > 0 {
			if m["status"] != string(models.StatusOnline) {
				continue
			}
			if r.window > 0 {
				if ts, err := time.Parse(time.RFC3339, m["updated"]); err == nil && now.Sub(ts) > r.window {
					continue
				}
			}
		}
		out = append(out, models.NearbyDriver{
			DriverID:       g.Name,
			Coord:          models.Coord{Lat: g.Latitude, Lng: g.Longitude},
			DistanceMeters: g.Dist,
		})
	}
	return out
}

func (r *RedisGeo) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }
