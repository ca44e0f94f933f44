// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package utils

import (
	"math"
	"strings"
)

const (
	// DegToRad is a constant to convert degrees to radians
	DegToRad = 0.017453292519943295769236907684886127134428718885417 // N[Pi/180, 50]
)

// NormalizeURL adds a trailing slash to the URL
func NormalizeURL(url string) string {
	if url != "" && !strings.HasSuffix(url, "/") {
		url += "/"
	}
	return url
}

// GetDistanceKm returns the great-circle distance in km between two coordinates
func GetDistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	var R float64 = 6371 // radius of the earth in Km
	dLat := (lat2 - lat1) * DegToRad
	dLon := (lon2 - lon1) * DegToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*DegToRad)*math.Cos(lat2*DegToRad)*math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func Min(v1, v2 int) int {
	if v1 < v2 {
		return v1
	}
	return v2
}

// IsInSlice returns true if `a` is contained in `list`
// Warning: this is slow, don't use it for long datasets
func IsInSlice(a string, list []string) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}

// ConcatURL joins a base URL and a path with exactly one slash between them
func ConcatURL(url, path string) string {
	if strings.HasSuffix(url, "/") && strings.HasPrefix(path, "/") {
		return url[:len(url)-1] + path
	}
	if !strings.HasSuffix(url, "/") && !strings.HasPrefix(path, "/") {
		return url + "/" + path
	}
	return url + path
}

func Plural(value interface{}) string {
	n, ok := value.(int)
	if ok && n > 1 || n < -1 {
		return "s"
	}
	return ""
}
