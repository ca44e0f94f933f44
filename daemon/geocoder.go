// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/almalinux/mirrorsvc/config"
	"github.com/almalinux/mirrorsvc/mirrors"
)

// locate resolves an administrative location to coordinates through
// the public geocoder. Results are cached per (country, state, city)
// and lookups are rate-limited across the whole update cycle, the
// public nominatim instance allows one request per second.
func (p *Processor) locate(ctx context.Context, country, state, city string) (mirrors.Location, bool) {
	if loc, ok := p.cache.GetLocation(country, state, city); ok {
		return loc, true
	}

	if err := p.geocoderLimit.Wait(ctx); err != nil {
		return mirrors.Location{}, false
	}

	params := url.Values{
		"city":    {city},
		"state":   {state},
		"country": {country},
		"format":  {"json"},
		"limit":   {"1"},
	}
	resp, err := p.doRequest(ctx, http.MethodGet, config.GetConfig().GeocoderURL+"/search", params)
	if err != nil {
		log.Warningf("Geocoding %s/%s/%s failed: %s", country, state, city, err)
		return mirrors.Location{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warningf("Geocoding %s/%s/%s failed: %s", country, state, city, resp.Status)
		return mirrors.Location{}, false
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return mirrors.Location{}, false
	}

	// nominatim returns coordinates as strings
	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.Unmarshal(content, &results); err != nil || len(results) == 0 {
		return mirrors.Location{}, false
	}

	lat, errLat := strconv.ParseFloat(results[0].Lat, 64)
	lon, errLon := strconv.ParseFloat(results[0].Lon, 64)
	if errLat != nil || errLon != nil {
		return mirrors.Location{}, false
	}

	loc := mirrors.Location{Latitude: lat, Longitude: lon}
	p.cache.SetLocation(country, state, city, loc)
	return loc, true
}
