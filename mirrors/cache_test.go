// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package mirrors

import (
	"encoding/json"
	"testing"

	"github.com/almalinux/mirrorsvc/config"
	. "github.com/almalinux/mirrorsvc/testing"
	"github.com/rafaeljusto/redigomock"
)

func prepareCacheTest(t *testing.T) (*redigomock.Conn, *Cache) {
	t.Helper()

	c := config.GetDefaultConfiguration()
	config.SetConfiguration(&c)

	mock, conn := PrepareRedisTest()
	return mock, NewCache(conn)
}

func TestCacheGetListMiss(t *testing.T) {
	_, cache := prepareCacheTest(t)

	// Nothing registered on the mock, every command errors out and the
	// cache must degrade to a miss.
	if _, ok := cache.GetList(Filter{Working: true}); ok {
		t.Fatal("Expected a miss")
	}
}

func TestCacheGetListHit(t *testing.T) {
	mock, cache := prepareCacheTest(t)

	set := Mirrors{{Name: "mirror.example.com", Status: StatusOK}}
	payload, err := json.Marshal(set)
	if err != nil {
		t.Fatal(err)
	}

	f := Filter{Working: true}
	mock.Command("GET", f.CacheKey()).Expect(payload)

	cached, ok := cache.GetList(f)
	if !ok {
		t.Fatal("Expected a hit")
	}
	if len(cached) != 1 || cached[0].Name != "mirror.example.com" {
		t.Fatalf("Wrong cached list: %v", cached.Names())
	}
}

func TestCacheGetListCorrupted(t *testing.T) {
	mock, cache := prepareCacheTest(t)

	f := Filter{}
	mock.Command("GET", f.CacheKey()).Expect([]byte("]not json["))

	if _, ok := cache.GetList(f); ok {
		t.Fatal("Expected a miss on a corrupted entry")
	}
}

func TestCacheSetList(t *testing.T) {
	mock, cache := prepareCacheTest(t)

	set := Mirrors{{Name: "mirror.example.com", Status: StatusOK}}
	payload, err := json.Marshal(set)
	if err != nil {
		t.Fatal(err)
	}

	f := Filter{Working: true}
	cmd := mock.Command("SETEX", f.CacheKey(),
		config.GetConfig().MirrorsListExpiredTime, payload).Expect("OK")

	cache.SetList(f, set)

	if mock.Stats(cmd) != 1 {
		t.Fatal("SETEX not issued")
	}
}

func TestCacheMirrorOffline(t *testing.T) {
	mock, cache := prepareCacheTest(t)

	if _, ok := cache.MirrorOffline("mirror.example.com"); ok {
		t.Fatal("Expected a miss")
	}

	mock.Command("GET", "mirror_offline_mirror.example.com").Expect("repo baseos unavailable")
	reason, ok := cache.MirrorOffline("mirror.example.com")
	if !ok || reason != "repo baseos unavailable" {
		t.Fatalf("Wrong reason: %q", reason)
	}

	set := mock.Command("SETEX", "mirror_offline_mirror.example.com",
		config.GetConfig().FlapExpiredTime, "repo baseos unavailable").Expect("OK")
	cache.SetMirrorOffline("mirror.example.com", "repo baseos unavailable")
	if mock.Stats(set) != 1 {
		t.Fatal("SETEX not issued")
	}

	del := mock.Command("DEL", "mirror_offline_mirror.example.com").Expect(int64(1))
	cache.ClearMirrorOffline("mirror.example.com")
	if mock.Stats(del) != 1 {
		t.Fatal("DEL not issued")
	}
}

func TestCacheSelection(t *testing.T) {
	mock, cache := prepareCacheTest(t)

	key := "ip_mirrorlist_198.51.100.4_9.3_baseos_x86_64___"
	if _, ok := cache.GetSelection(key); ok {
		t.Fatal("Expected a miss")
	}

	urls := []string{"https://mirror.example.com/almalinux/9.3/BaseOS/x86_64/os"}
	payload, err := json.Marshal(urls)
	if err != nil {
		t.Fatal(err)
	}

	set := mock.Command("SETEX", key, config.GetConfig().CacheExpiredTime, payload).Expect("OK")
	cache.SetSelection(key, urls)
	if mock.Stats(set) != 1 {
		t.Fatal("SETEX not issued")
	}

	mock.Command("GET", key).Expect(payload)
	cached, ok := cache.GetSelection(key)
	if !ok || len(cached) != 1 || cached[0] != urls[0] {
		t.Fatalf("Wrong cached selection: %v", cached)
	}
}

func TestCacheInvalidateLists(t *testing.T) {
	mock, cache := prepareCacheTest(t)

	for _, f := range AllFilters() {
		mock.Command("DEL", f.CacheKey()).Expect(int64(1))
	}
	cache.InvalidateLists()
}

func TestCacheLocation(t *testing.T) {
	mock, cache := prepareCacheTest(t)

	loc := Location{Latitude: 48.13, Longitude: 11.57}
	payload, err := json.Marshal(loc)
	if err != nil {
		t.Fatal(err)
	}

	mock.Command("GET", "geolocation_DE_Bavaria_Munich").Expect(payload)
	cached, ok := cache.GetLocation("DE", "Bavaria", "Munich")
	if !ok || cached.Latitude != 48.13 {
		t.Fatalf("Wrong cached location: %+v", cached)
	}
}
