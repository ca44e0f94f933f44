// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package http

import (
	"errors"
	"strings"
	"testing"

	"github.com/almalinux/mirrorsvc/config"
	"github.com/almalinux/mirrorsvc/database"
	"github.com/almalinux/mirrorsvc/mirrors"
	"github.com/almalinux/mirrorsvc/network"
	. "github.com/almalinux/mirrorsvc/testing"
)

func testService() *config.Service {
	return &config.Service{
		ConfigVersion:  1,
		AllowedOutdate: "6h",
		VaultMirror:    "https://vault.example.com/",
		Versions:       []string{"8", "8.9", "9", "9.3"},
		VaultVersions:  []string{"7.9"},
		DuplicatedVersions: map[string]string{
			"8": "8.9",
			"9": "9.3",
		},
		OptionalModuleVersions: map[string][]string{
			"raspberrypi": {"9.3"},
		},
		Arches: map[string][]string{
			"8":   {"x86_64", "aarch64"},
			"8.9": {"x86_64", "aarch64"},
			"9":   {"x86_64", "aarch64"},
			"9.3": {"x86_64", "aarch64"},
		},
		RequiredProtocols: []string{"https", "http"},
		Repos: []config.Repo{
			{Name: "baseos", Path: "BaseOS/$basearch/os"},
			{Name: "appstream", Path: "AppStream/$basearch/os"},
		},
	}
}

func prepareSelectorTest(t *testing.T, set mirrors.Mirrors) *Selector {
	t.Helper()

	c := config.GetDefaultConfiguration()
	config.SetConfiguration(&c)
	config.SetService(testService())

	sql, err := database.NewSQLPath(":memory:")
	if err != nil {
		t.Fatalf("Cannot open the test database: %s", err)
	}
	t.Cleanup(func() { sql.Close() })

	store := mirrors.NewStore(sql)
	if err := store.Commit(set); err != nil {
		t.Fatalf("Cannot commit the test catalogue: %s", err)
	}

	// The mock has no registered commands so every cache access is a
	// miss, forcing the SQL path.
	_, conn := PrepareRedisTest()
	cache := mirrors.NewCache(conn)

	return NewSelector(network.NewGeoIP(), mirrors.NewCachedStore(store, cache), cache)
}

func selectorCatalogue() mirrors.Mirrors {
	return mirrors.Mirrors{
		{
			Name:        "de.example.com",
			Geolocation: mirrors.Geolocation{Continent: "Europe", Country: "DE"},
			Status:      mirrors.StatusOK,
			URLs: map[string]string{
				"http":  "http://de.example.com/almalinux",
				"https": "https://de.example.com/almalinux",
			},
			MirrorURL:     "https://de.example.com/almalinux",
			ISOURL:        "https://de.example.com/almalinux/%s/isos/%s",
			HasFullISOSet: true,
		},
		{
			Name:        "us.example.com",
			Geolocation: mirrors.Geolocation{Continent: "North America", Country: "US"},
			Status:      mirrors.StatusOK,
			URLs:        map[string]string{"https": "https://us.example.com/almalinux"},
			MirrorURL:   "https://us.example.com/almalinux",
			ISOURL:      "https://us.example.com/almalinux/%s/isos/%s",
		},
		{
			Name:         "cloud.example.com",
			Geolocation:  mirrors.Geolocation{Continent: "North America", Country: "US"},
			Status:       mirrors.StatusOK,
			CloudType:    "aws",
			URLs:         map[string]string{"https": "https://cloud.example.com/almalinux"},
			SubnetRanges: network.ParseSubnets([]string{"198.51.100.0/24"}),
			MirrorURL:    "https://cloud.example.com/almalinux",
		},
		{
			Name:        "broken.example.com",
			Geolocation: mirrors.Geolocation{Continent: "Europe", Country: "FR"},
			Status:      "repo baseos unavailable",
			URLs:        map[string]string{"https": "https://broken.example.com/almalinux"},
		},
	}
}

func TestNormalizeVersion(t *testing.T) {
	svc := testService()

	good := map[string]string{
		"8":               "8.9",
		"8.9":             "8.9",
		"9":               "9.3",
		"9.3":             "9.3",
		"9.5":             "9.3",
		"8.8":             "8.9",
		"7.9":             "7.9",
		"9.3-raspberrypi": "9.3-raspberrypi",
	}
	for version, expected := range good {
		r, err := NormalizeVersion(svc, version)
		if err != nil {
			t.Fatalf("%q: unexpected error: %s", version, err)
		}
		if r != expected {
			t.Fatalf("%q: expected %q, got %q", version, expected, r)
		}
	}

	for _, version := range []string{"", "10", "9.3-unknown", "sid"} {
		if _, err := NormalizeVersion(svc, version); err == nil {
			t.Fatalf("%q: expected an error", version)
		}
	}
}

func TestSelectUnknownAttributes(t *testing.T) {
	s := prepareSelectorTest(t, selectorCatalogue())

	cases := []*SelectionRequest{
		{Version: "10", Repo: "baseos"},
		{Version: "9", Repo: "nonfree"},
		{Version: "9", Repo: "baseos", Arch: "riscv64"},
		{Version: "9", Repo: "baseos", Protocol: "gopher"},
		{Version: "9", Repo: "baseos", Arch: "x86_64", Country: "Atlantis"},
	}
	for _, req := range cases {
		_, err := s.Select(req)
		var unknown *UnknownRepoAttributeError
		if !errors.As(err, &unknown) {
			t.Fatalf("%+v: expected an unknown-attribute error, got %v", req, err)
		}
	}
}

func TestSelectVault(t *testing.T) {
	s := prepareSelectorTest(t, selectorCatalogue())

	urls, err := s.Select(&SelectionRequest{Version: "7.9", Repo: "baseos", Arch: "x86_64"})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if len(urls) != 1 {
		t.Fatalf("Expected the vault alone, got %v", urls)
	}
	if urls[0] != "https://vault.example.com/7.9/BaseOS/x86_64/os" {
		t.Fatalf("Wrong vault URL: %s", urls[0])
	}

	urls, err = s.Select(&SelectionRequest{Version: "7.9", Arch: "x86_64", ISOList: true})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if len(urls) != 1 || urls[0] != "https://vault.example.com/7.9/isos/x86_64" {
		t.Fatalf("Wrong vault ISO URL: %v", urls)
	}
}

func TestSelectWithoutClientIP(t *testing.T) {
	s := prepareSelectorTest(t, selectorCatalogue())

	urls, err := s.Select(&SelectionRequest{Version: "9", Repo: "baseos", Arch: "x86_64"})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	// All working mirrors qualify, the broken one is filtered out
	if len(urls) != 3 {
		t.Fatalf("Expected 3 URLs, got %v", urls)
	}
	for _, u := range urls {
		if !strings.HasSuffix(u, "/almalinux/9.3/BaseOS/x86_64/os") {
			t.Fatalf("Wrong URL shape: %s", u)
		}
		if strings.Contains(u, "broken.example.com") {
			t.Fatalf("Broken mirror selected: %v", urls)
		}
	}
}

func TestSelectProtocolFilter(t *testing.T) {
	s := prepareSelectorTest(t, selectorCatalogue())

	urls, err := s.Select(&SelectionRequest{Version: "9", Repo: "baseos", Arch: "x86_64", Protocol: "http"})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if len(urls) != 1 || urls[0] != "http://de.example.com/almalinux/9.3/BaseOS/x86_64/os" {
		t.Fatalf("Wrong selection: %v", urls)
	}
}

func TestSelectCountryFilter(t *testing.T) {
	s := prepareSelectorTest(t, selectorCatalogue())

	urls, err := s.Select(&SelectionRequest{Version: "9", Repo: "baseos", Arch: "x86_64", Country: "Germany"})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if len(urls) != 1 || !strings.HasPrefix(urls[0], "http://de.example.com/") {
		t.Fatalf("Wrong selection: %v", urls)
	}
}

func TestSelectNetworkAffinity(t *testing.T) {
	s := prepareSelectorTest(t, selectorCatalogue())

	urls, err := s.Select(&SelectionRequest{
		IP: "198.51.100.42", Version: "9", Repo: "baseos", Arch: "x86_64",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	// Without a GeoIP record there is no padding, the matching cloud
	// mirror serves alone.
	if len(urls) != 1 || urls[0] != "https://cloud.example.com/almalinux/9.3/BaseOS/x86_64/os" {
		t.Fatalf("Wrong selection: %v", urls)
	}
}

func TestSelectMonopoly(t *testing.T) {
	set := selectorCatalogue()
	set = append(set, mirrors.Mirror{
		Name:         "monopoly.example.com",
		Geolocation:  mirrors.Geolocation{Continent: "Europe", Country: "DE"},
		Status:       mirrors.StatusOK,
		Monopoly:     true,
		URLs:         map[string]string{"https": "https://monopoly.example.com/almalinux"},
		SubnetRanges: network.ParseSubnets([]string{"203.0.113.0/24"}),
	})
	s := prepareSelectorTest(t, set)

	urls, err := s.Select(&SelectionRequest{
		IP: "203.0.113.5", Version: "9", Repo: "baseos", Arch: "x86_64",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if len(urls) != 1 || urls[0] != "https://monopoly.example.com/almalinux/9.3/BaseOS/x86_64/os" {
		t.Fatalf("Expected the monopoly mirror alone, got %v", urls)
	}
}

func TestSelectISOList(t *testing.T) {
	s := prepareSelectorTest(t, selectorCatalogue())

	urls, err := s.Select(&SelectionRequest{Version: "9", Arch: "x86_64", ISOList: true})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	// Only de.example.com carries the full ISO set
	if len(urls) != 1 || urls[0] != "https://de.example.com/almalinux/9.3/isos/x86_64" {
		t.Fatalf("Wrong ISO selection: %v", urls)
	}
}

func TestSelectTruncatesToConfiguredLength(t *testing.T) {
	var set mirrors.Mirrors
	for i := 0; i < 30; i++ {
		set = append(set, mirrors.Mirror{
			Name:        strings.Repeat("m", i+1) + ".example.com",
			Geolocation: mirrors.Geolocation{Continent: "Europe", Country: "DE"},
			Status:      mirrors.StatusOK,
			URLs:        map[string]string{"https": "https://m" + strings.Repeat("m", i) + ".example.com/almalinux"},
		})
	}
	s := prepareSelectorTest(t, set)

	// A client IP without a GeoIP record goes through the geographic
	// pass and must come back truncated.
	urls, err := s.Select(&SelectionRequest{
		IP: "192.0.2.1", Version: "9", Repo: "baseos", Arch: "x86_64",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if len(urls) != config.GetConfig().LengthGeoMirrorsList {
		t.Fatalf("Expected %d URLs, got %d", config.GetConfig().LengthGeoMirrorsList, len(urls))
	}
}

func TestRepoPath(t *testing.T) {
	repo := &config.Repo{Name: "baseos", Path: "BaseOS/$basearch/os"}

	if p := repoPath(repo, "x86_64"); p != "BaseOS/x86_64/os" {
		t.Fatalf("Wrong path: %s", p)
	}
	// Without an arch the variable stays for the client to fill
	if p := repoPath(repo, ""); p != "BaseOS/$basearch/os" {
		t.Fatalf("Wrong path: %s", p)
	}
	if p := repoPath(nil, "x86_64"); p != "" {
		t.Fatalf("Wrong path: %s", p)
	}
}

func TestSelectionCacheKey(t *testing.T) {
	req := &SelectionRequest{IP: "198.51.100.4", Repo: "baseos", Arch: "x86_64"}
	key := selectionCacheKey(req, "9.3")
	if key != "ip_mirrorlist_198.51.100.4_9.3_baseos_x86_64___" {
		t.Fatalf("Wrong key: %s", key)
	}

	req.ISOList = true
	if key := selectionCacheKey(req, "9.3"); !strings.HasPrefix(key, "ip_isolist_") {
		t.Fatalf("Wrong key: %s", key)
	}
}
