package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"radar/internal/service/notify"
)

// PlaceTTL is how long a geocoded place name is reused
const PlaceTTL = 24 * time.Hour

// PlaceCache remembers reverse geocoding results per ~100 m cell, so
// broadcasts from the same area don't hit the geocoding API every time
type PlaceCache struct {
	client *redis.Client
	inner  notify.Geocoder
	ttl    time.Duration
}

func NewPlaceCache(client *redis.Client, inner notify.Geocoder, ttl time.Duration) *PlaceCache {
	return &PlaceCache{client: client, inner: inner, ttl: ttl}
}

func placeKey(lat, lng float64) string {
	return fmt.Sprintf("place:%.3f:%.3f", lat, lng)
}

func (c *PlaceCache) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	key := placeKey(lat, lng)

	place, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return place, nil
	}
	if !errors.Is(err, redis.Nil) {
		log.Printf("[redis] place cache read failed: %v", err)
	}

	place, err = c.inner.ReverseGeocode(ctx, lat, lng)
	if err != nil {
		return "", err
	}
	if err := c.client.Set(ctx, key, place, c.ttl).Err(); err != nil {
		log.Printf("[redis] place cache write failed: %v", err)
	}
	return place, nil
}
