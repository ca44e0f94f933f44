// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package mirrors

import (
	"encoding/json"
	"fmt"

	"github.com/almalinux/mirrorsvc/config"
	"github.com/almalinux/mirrorsvc/database"
	"github.com/almalinux/mirrorsvc/network"
	"github.com/gomodule/redigo/redis"
)

// Cache is the redis-backed cache layer. Every accessor degrades to a
// miss on backend errors so a cache outage never breaks serving.
type Cache struct {
	r *database.Redis
}

// NewCache returns a cache backed by the given redis instance
func NewCache(r *database.Redis) *Cache {
	return &Cache{r: r}
}

// GetList returns the cached mirror list of a filter combination
func (c *Cache) GetList(f Filter) (Mirrors, bool) {
	var set Mirrors
	if !c.getJSON(f.CacheKey(), &set) {
		return nil, false
	}
	return set, true
}

// SetList caches the mirror list of a filter combination
func (c *Cache) SetList(f Filter, set Mirrors) {
	c.setJSON(f.CacheKey(), set, config.GetConfig().MirrorsListExpiredTime)
}

// InvalidateLists drops every filter-combination list key
func (c *Cache) InvalidateLists() {
	conn := c.r.Get()
	defer conn.Close()

	for _, f := range AllFilters() {
		if _, err := conn.Do("DEL", f.CacheKey()); err != nil {
			log.Warningf("Cache invalidation failed: %s", err)
			return
		}
	}
}

// MirrorOffline returns the cached failure reason of a flapping mirror
func (c *Cache) MirrorOffline(name string) (string, bool) {
	conn := c.r.GetRO()
	defer conn.Close()

	reason, err := redis.String(conn.Do("GET", flapKey(name)))
	if err != nil {
		return "", false
	}
	return reason, true
}

// SetMirrorOffline records a probe failure so the next cycles skip the
// mirror until the flap window expires.
func (c *Cache) SetMirrorOffline(name, reason string) {
	conn := c.r.Get()
	defer conn.Close()

	_, err := conn.Do("SETEX", flapKey(name), config.GetConfig().FlapExpiredTime, reason)
	if err != nil {
		log.Warningf("Recording offline mirror %s failed: %s", name, err)
	}
}

// ClearMirrorOffline drops the flap entry after a successful probe
func (c *Cache) ClearMirrorOffline(name string) {
	conn := c.r.Get()
	defer conn.Close()

	if _, err := conn.Do("DEL", flapKey(name)); err != nil {
		log.Warningf("Clearing offline mirror %s failed: %s", name, err)
	}
}

func flapKey(name string) string {
	return "mirror_offline_" + name
}

// GetLocation returns a cached geocoder result
func (c *Cache) GetLocation(country, state, city string) (Location, bool) {
	var loc Location
	ok := c.getJSON(locationKey(country, state, city), &loc)
	return loc, ok
}

// SetLocation caches a geocoder result
func (c *Cache) SetLocation(country, state, city string, loc Location) {
	c.setJSON(locationKey(country, state, city), loc, config.GetConfig().CacheExpiredTime)
}

func locationKey(country, state, city string) string {
	return fmt.Sprintf("geolocation_%s_%s_%s", country, state, city)
}

// GetCloudSubnets returns the cached range document of a provider
func (c *Cache) GetCloudSubnets(cloudType string) (network.CloudSubnets, bool) {
	var subnets network.CloudSubnets
	if !c.getJSON(cloudType+"_subnets", &subnets) {
		return nil, false
	}
	return subnets, true
}

// SetCloudSubnets caches the range document of a provider
func (c *Cache) SetCloudSubnets(cloudType string, subnets network.CloudSubnets) {
	c.setJSON(cloudType+"_subnets", subnets, config.GetConfig().SubnetsExpiredTime)
}

// GetSelection returns a cached per-client selection
func (c *Cache) GetSelection(key string) ([]string, bool) {
	var urls []string
	if !c.getJSON(key, &urls) {
		return nil, false
	}
	return urls, true
}

// SetSelection caches a per-client selection
func (c *Cache) SetSelection(key string, urls []string) {
	c.setJSON(key, urls, config.GetConfig().CacheExpiredTime)
}

func (c *Cache) getJSON(key string, out interface{}) bool {
	conn := c.r.GetRO()
	defer conn.Close()

	reply, err := redis.Bytes(conn.Do("GET", key))
	if err != nil {
		if err != redis.ErrNil {
			log.Debugf("Cache read %s failed: %s", key, err)
		}
		return false
	}
	if err := json.Unmarshal(reply, out); err != nil {
		log.Warningf("Cache entry %s is corrupted: %s", key, err)
		return false
	}
	return true
}

func (c *Cache) setJSON(key string, value interface{}, ttl int) {
	payload, err := json.Marshal(value)
	if err != nil {
		log.Errorf("Serializing cache entry %s failed: %s", key, err)
		return
	}

	conn := c.r.Get()
	defer conn.Close()

	if _, err := conn.Do("SETEX", key, ttl, payload); err != nil {
		log.Warningf("Cache write %s failed: %s", key, err)
	}
}

// CachedStore layers the cache over the SQL store
type CachedStore struct {
	Store *Store
	Cache *Cache
}

// NewCachedStore combines a store and a cache
func NewCachedStore(store *Store, cache *Cache) *CachedStore {
	return &CachedStore{Store: store, Cache: cache}
}

// List returns the mirrors matching the filter, consulting the cache
// first and populating it on miss.
func (s *CachedStore) List(f Filter) (Mirrors, error) {
	if set, ok := s.Cache.GetList(f); ok {
		return set, nil
	}
	set, err := s.Store.List(f)
	if err != nil {
		return nil, err
	}
	s.Cache.SetList(f, set)
	return set, nil
}

// Refresh invalidates every list key and warms them again from the
// database. Called after a successful catalogue swap.
func (s *CachedStore) Refresh() error {
	s.Cache.InvalidateLists()
	for _, f := range AllFilters() {
		set, err := s.Store.List(f)
		if err != nil {
			return err
		}
		s.Cache.SetList(f, set)
	}
	return nil
}
