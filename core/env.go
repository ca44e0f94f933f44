// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package core

import (
	"os"
	"path/filepath"
)

// Environment variables recognized by the service. Paths default to the
// locations used by the container image.
const (
	EnvConfigRoot    = "CONFIG_ROOT"
	EnvSourcePath    = "SOURCE_PATH"
	EnvGeoIPPath     = "GEOIP_PATH"
	EnvASNPath       = "ASN_PATH"
	EnvContinentPath = "CONTINENT_PATH"
	EnvSQLitePath    = "SQLITE_PATH"
	EnvRedisURI      = "REDIS_URI"
	EnvRedisURIRO    = "REDIS_URI_RO"
	EnvTestIPAddress = "TEST_IP_ADDRESS"
	EnvUpdatePidFile = "MIRRORS_UPDATE_PID"
	EnvSentryDSN     = "SENTRY_DSN"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ConfigRoot returns the root of the YAML configuration tree.
func ConfigRoot() string {
	return envOr(EnvConfigRoot, "/config")
}

// SourcePath returns the directory holding the JSON-schema registry.
func SourcePath() string {
	return os.Getenv(EnvSourcePath)
}

// GeoIPPath returns the path of the city-level mmdb database.
func GeoIPPath() string {
	return envOr(EnvGeoIPPath, "/data/standard_location.mmdb")
}

// ASNPath returns the path of the ASN mmdb database.
func ASNPath() string {
	return envOr(EnvASNPath, "/data/asn.mmdb")
}

// ContinentPath returns the path of the country table JSON file.
func ContinentPath() string {
	return envOr(EnvContinentPath, "/data/continents.json")
}

// SQLitePath returns the path of the materialized mirror database.
func SQLitePath() string {
	return envOr(EnvSQLitePath, "/data/mirrors.db")
}

// RedisURI returns the URI of the shared key-value store.
func RedisURI() string {
	return envOr(EnvRedisURI, "redis://127.0.0.1:6379")
}

// RedisURIRO returns the URI of the read-only redis replica, falling
// back to the writable instance when no replica is configured.
func RedisURIRO() string {
	return envOr(EnvRedisURIRO, RedisURI())
}

// TestIPAddress returns the client address override used in tests.
func TestIPAddress() string {
	return os.Getenv(EnvTestIPAddress)
}

// UpdatePidFile returns the path of the update-cycle lockfile.
func UpdatePidFile() string {
	return envOr(EnvUpdatePidFile, filepath.Join(os.TempDir(), "mirrors_update.pid"))
}

// SentryDSN returns the DSN of the error-reporting sink, empty when disabled.
func SentryDSN() string {
	return os.Getenv(EnvSentryDSN)
}
