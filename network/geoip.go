// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package network

import (
	"encoding/json"
	"net"
	"os"
	"strings"

	"github.com/almalinux/mirrorsvc/core"
	"github.com/op/go-logging"
	"github.com/oschwald/maxminddb-golang"
	"github.com/pkg/errors"
)

var log = logging.MustGetLogger("main")

// GeoIP wraps the memory-mapped location and ASN databases plus the
// country-to-continent table. All lookups are read-only after LoadGeoIP.
type GeoIP struct {
	geo        *maxminddb.Reader
	asn        *maxminddb.Reader
	continents map[string]string
}

// GeoIPRecord is the resolved location of an IP address
type GeoIPRecord struct {
	Continent     string
	Country       string
	StateProvince string
	City          string
	Latitude      float64
	Longitude     float64
}

// IsValid returns true when the lookup produced a usable record
func (r *GeoIPRecord) IsValid() bool {
	return r.Country != ""
}

// Layout of the location database records
type locationRecord struct {
	City    string  `maxminddb:"city"`
	Region  string  `maxminddb:"region"`
	Country string  `maxminddb:"country"`
	Lat     float64 `maxminddb:"lat"`
	Lng     float64 `maxminddb:"lng"`
}

type asnRecord struct {
	Number uint `maxminddb:"autonomous_system_number"`
}

// NewGeoIP instanciates a new instance of GeoIP
func NewGeoIP() *GeoIP {
	return &GeoIP{}
}

// LoadGeoIP opens the location and ASN databases and reads the
// continent table into memory.
func (g *GeoIP) LoadGeoIP() error {
	geo, err := maxminddb.Open(core.GeoIPPath())
	if err != nil {
		return errors.Wrap(err, "opening location database")
	}
	asn, err := maxminddb.Open(core.ASNPath())
	if err != nil {
		geo.Close()
		return errors.Wrap(err, "opening ASN database")
	}
	continents, err := loadContinents(core.ContinentPath())
	if err != nil {
		geo.Close()
		asn.Close()
		return errors.Wrap(err, "loading continent table")
	}

	g.geo = geo
	g.asn = asn
	g.continents = continents
	return nil
}

// Close releases the memory-mapped databases
func (g *GeoIP) Close() {
	if g.geo != nil {
		g.geo.Close()
	}
	if g.asn != nil {
		g.asn.Close()
	}
}

// GetRecord returns the location of an IP address. The zero record is
// returned for malformed addresses and addresses absent from the
// database.
func (g *GeoIP) GetRecord(ip string) (rec GeoIPRecord) {
	addr := net.ParseIP(ip)
	if addr == nil || g.geo == nil {
		return
	}

	var raw locationRecord
	if err := g.geo.Lookup(addr, &raw); err != nil || raw.Country == "" {
		return
	}

	rec.Country = NormalizeCountry(raw.Country)
	rec.Continent = g.continents[rec.Country]
	rec.StateProvince = raw.Region
	rec.City = raw.City
	rec.Latitude = raw.Lat
	rec.Longitude = raw.Lng
	return
}

// GetASN returns the autonomous system number announcing an IP address
func (g *GeoIP) GetASN(ip string) (int, bool) {
	addr := net.ParseIP(ip)
	if addr == nil || g.asn == nil {
		return 0, false
	}

	var raw asnRecord
	if err := g.asn.Lookup(addr, &raw); err != nil || raw.Number == 0 {
		return 0, false
	}
	return int(raw.Number), true
}

// ContinentOf returns the continent of an alpha-2 country code
func (g *GeoIP) ContinentOf(country string) string {
	return g.continents[NormalizeCountry(country)]
}

// The continent table is a flat JSON object mapping alpha-2 country
// codes to continent names.
func loadContinents(path string) (map[string]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]string{}
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, err
	}
	continents := make(map[string]string, len(raw))
	for country, continent := range raw {
		continents[strings.ToUpper(country)] = continent
	}
	return continents, nil
}
