// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package mirrors

import (
	"testing"

	"github.com/almalinux/mirrorsvc/database"
	"github.com/almalinux/mirrorsvc/network"
)

func prepareStoreTest(t *testing.T) *Store {
	t.Helper()

	sql, err := database.NewSQLPath(":memory:")
	if err != nil {
		t.Fatalf("Cannot open the test database: %s", err)
	}
	t.Cleanup(func() { sql.Close() })
	return NewStore(sql)
}

func testCatalogue() Mirrors {
	return Mirrors{
		{
			Name: "public.example.com",
			Geolocation: Geolocation{
				Continent: "Europe",
				Country:   "DE",
				City:      "Munich",
			},
			IP:       "198.51.100.4",
			Location: Location{Latitude: 48.13, Longitude: 11.57},
			Status:   StatusOK,
			Sponsor:  Sponsor{Name: "Example", URL: "https://www.example.com"},
			URLs: map[string]string{
				"http":  "http://public.example.com/almalinux",
				"https": "https://public.example.com/almalinux",
			},
			ModuleURLs: map[string]map[string]string{
				"raspberrypi": {"https": "https://public.example.com/rpi"},
			},
			Subnets:       SubnetsDecl{List: []string{"192.168.1.0/24"}},
			SubnetRanges:  network.ParseSubnets([]string{"192.168.1.0/24"}),
			ASN:           ASNList{3333, 1200},
			MirrorURL:     "https://public.example.com/almalinux",
			ISOURL:        "https://public.example.com/almalinux/%s/isos/%s",
			HasFullISOSet: true,
			HasOptionalModules: []string{"raspberrypi"},
		},
		{
			Name:        "cloud.example.com",
			Geolocation: Geolocation{Continent: "North America", Country: "US"},
			Status:      StatusOK,
			CloudType:   "aws",
			CloudRegions: []string{"us-east-1"},
			URLs:        map[string]string{"https": "https://cloud.example.com/almalinux"},
		},
		{
			Name:        "private.example.com",
			Geolocation: Geolocation{Continent: "Europe", Country: "FR"},
			Status:      StatusExpired,
			Private:     true,
			URLs:        map[string]string{"https": "https://private.example.com/almalinux"},
		},
	}
}

func TestStoreCommitAndList(t *testing.T) {
	store := prepareStoreTest(t)

	if err := store.Commit(testCatalogue()); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	set, err := store.List(Filter{})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if len(set) != 3 {
		t.Fatalf("Expected 3 mirrors, got %d", len(set))
	}

	var public *Mirror
	for i := range set {
		if set[i].Name == "public.example.com" {
			public = &set[i]
		}
	}
	if public == nil {
		t.Fatal("public.example.com missing from the catalogue")
	}

	if len(public.URLs) != 2 || public.URLs["https"] != "https://public.example.com/almalinux" {
		t.Fatalf("Wrong URLs: %v", public.URLs)
	}
	if public.ModuleURLs["raspberrypi"]["https"] != "https://public.example.com/rpi" {
		t.Fatalf("Wrong module URLs: %v", public.ModuleURLs)
	}
	if len(public.Subnets.List) != 1 || public.Subnets.List[0] != "192.168.1.0/24" {
		t.Fatalf("Wrong subnets: %v", public.Subnets.List)
	}
	if len(public.SubnetRanges) != 1 || !public.MatchesClient("192.168.1.42", 0, false) {
		t.Fatalf("Wrong subnet ranges: %v", public.SubnetRanges)
	}
	if len(public.ASN) != 2 || public.ASN[0] != 3333 {
		t.Fatalf("Wrong ASN: %v", public.ASN)
	}
	if !public.HasFullISOSet || len(public.HasOptionalModules) != 1 {
		t.Fatalf("Wrong flags: %+v", public)
	}
	if public.Location.Latitude != 48.13 {
		t.Fatalf("Wrong location: %+v", public.Location)
	}
}

func TestStoreListFilters(t *testing.T) {
	store := prepareStoreTest(t)

	if err := store.Commit(testCatalogue()); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	cases := []struct {
		filter   Filter
		expected int
	}{
		{Filter{}, 3},
		{Filter{Working: true}, 2},
		{Filter{Expired: true}, 1},
		{Filter{Working: true, Expired: true}, 3},
		{Filter{WithoutCloud: true}, 2},
		{Filter{WithoutPrivate: true}, 2},
		{Filter{WithFullISOSet: true}, 1},
		{Filter{Working: true, WithoutCloud: true, WithoutPrivate: true}, 1},
	}
	for _, c := range cases {
		set, err := store.List(c.filter)
		if err != nil {
			t.Fatalf("%+v: unexpected error: %s", c.filter, err)
		}
		if len(set) != c.expected {
			t.Fatalf("%+v: expected %d mirrors, got %v", c.filter, c.expected, set.Names())
		}
	}
}

func TestStoreCommitReplaces(t *testing.T) {
	store := prepareStoreTest(t)

	if err := store.Commit(testCatalogue()); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if err := store.Commit(testCatalogue()[:1]); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	set, err := store.List(Filter{})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if len(set) != 1 || set[0].Name != "public.example.com" {
		t.Fatalf("Catalogue swap failed: %v", set.Names())
	}
	// Association tables swapped along
	if len(set[0].URLs) != 2 {
		t.Fatalf("Wrong URLs after the swap: %v", set[0].URLs)
	}
}

func TestStoreListOrder(t *testing.T) {
	store := prepareStoreTest(t)

	if err := store.Commit(testCatalogue()); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	set, err := store.List(Filter{})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	// Ordered by continent then country: Europe/DE, Europe/FR, NA/US
	expected := []string{"public.example.com", "private.example.com", "cloud.example.com"}
	for i, name := range expected {
		if set[i].Name != name {
			t.Fatalf("Expected %v, got %v", expected, set.Names())
		}
	}
}
