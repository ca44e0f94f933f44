// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package http

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/almalinux/mirrorsvc/config"
	"github.com/almalinux/mirrorsvc/mirrors"
	"github.com/almalinux/mirrorsvc/network"
	"github.com/almalinux/mirrorsvc/utils"
)

// UnknownRepoAttributeError marks a request naming a version, arch,
// repo, protocol or country the service does not know. Surfaced as 404.
type UnknownRepoAttributeError struct {
	Attribute string
	Value     string
}

func (e *UnknownRepoAttributeError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Attribute, e.Value)
}

// SelectionRequest carries the parsed inputs of one selection call
type SelectionRequest struct {
	IP       string
	Version  string
	Repo     string
	Arch     string
	Protocol string
	Country  string
	Module   string
	ISOList  bool
}

// Selector computes the ordered mirror URL list for a client request.
// It is pure over the cached mirror list, save for the per-client
// selection cache.
type Selector struct {
	geoip *network.GeoIP
	store *mirrors.CachedStore
	cache *mirrors.Cache
}

// NewSelector returns a selector over the given backends
func NewSelector(geoip *network.GeoIP, store *mirrors.CachedStore, cache *mirrors.Cache) *Selector {
	return &Selector{geoip: geoip, store: store, cache: cache}
}

// Select returns the ordered URL list for the request
func (s *Selector) Select(req *SelectionRequest) ([]string, error) {
	svc := config.GetService()

	version, err := NormalizeVersion(svc, req.Version)
	if err != nil {
		return nil, err
	}

	if req.Protocol != "" && req.Protocol != "http" && req.Protocol != "https" {
		return nil, &UnknownRepoAttributeError{"protocol", req.Protocol}
	}

	if req.Country != "" && !network.IsCountryCode(network.NormalizeCountry(req.Country)) {
		return nil, &UnknownRepoAttributeError{"country", req.Country}
	}

	var repo *config.Repo
	if !req.ISOList {
		var ok bool
		repo, ok = svc.Repo(req.Repo)
		if !ok {
			return nil, &UnknownRepoAttributeError{"repository", req.Repo}
		}
	}

	// Archived versions are served from the vault alone, with whatever
	// arches the vault carries.
	if svc.IsVaultVersion(version) || (repo != nil && repo.Vault) {
		return []string{s.vaultURL(svc, version, req, repo)}, nil
	}

	if req.Arch != "" && !utils.IsInSlice(req.Arch, svc.ArchesFor(version)) {
		return nil, &UnknownRepoAttributeError{"arch", req.Arch}
	}

	key := selectionCacheKey(req, version)
	if urls, ok := s.cache.GetSelection(key); ok {
		return urls, nil
	}

	set, err := s.candidates(svc, req)
	if err != nil {
		return nil, err
	}
	urls := renderURLs(set, req, version, repo)
	s.cache.SetSelection(key, urls)
	return urls, nil
}

// NormalizeVersion maps a requested version onto the version actually
// served, following the alias table. Vault versions pass through, the
// caller routes them to the vault.
func NormalizeVersion(svc *config.Service, version string) (string, error) {
	if version == "" {
		return "", &UnknownRepoAttributeError{"version", version}
	}
	if svc.IsVaultVersion(version) {
		return version, nil
	}
	if mapped, ok := svc.DuplicatedVersions[version]; ok && svc.IsActiveVersion(version) {
		return mapped, nil
	}
	if svc.IsActiveVersion(version) {
		return version, nil
	}

	// Optional-module form "<base>-<module>" stays as-is. Checked before
	// the prefix aliases, "9.3-raspberrypi" must not collapse through "9".
	if base, module, found := strings.Cut(version, "-"); found {
		if versions, ok := svc.OptionalModuleVersions[module]; ok && utils.IsInSlice(base, versions) {
			return version, nil
		}
	}

	// A point release like "9.5" aliases through its major key "9".
	// Plain versions only, "9.3-unknown" must stay an error.
	if !strings.Contains(version, "-") {
		keys := make([]string, 0, len(svc.DuplicatedVersions))
		for k := range svc.DuplicatedVersions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if strings.HasPrefix(version, k) {
				return svc.DuplicatedVersions[k], nil
			}
		}
	}

	return "", &UnknownRepoAttributeError{"version", version}
}

// candidates runs the selection passes over the filtered catalogue
func (s *Selector) candidates(svc *config.Service, req *SelectionRequest) (mirrors.Mirrors, error) {
	cfg := config.GetConfig()

	filter := mirrors.Filter{
		Working:        true,
		WithoutCloud:   req.ISOList,
		WithoutPrivate: req.ISOList,
		WithFullISOSet: req.ISOList,
	}
	set, err := s.store.List(filter)
	if err != nil {
		return nil, err
	}

	if req.Country != "" {
		country := network.NormalizeCountry(req.Country)
		set = filterMirrors(set, func(m *mirrors.Mirror) bool {
			return m.Geolocation.Country == country
		})
	}
	if req.Protocol != "" {
		set = filterMirrors(set, func(m *mirrors.Mirror) bool {
			_, ok := m.URLs[req.Protocol]
			return ok
		})
	}

	if req.IP == "" {
		shuffled := append(mirrors.Mirrors{}, set...)
		shuffled.Shuffle()
		return shuffled, nil
	}

	rec := s.geoip.GetRecord(req.IP)

	// Network-affinity pass: a mirror claiming the client's subnet or
	// AS serves it regardless of geography.
	clientASN, asnOK := s.geoip.GetASN(req.IP)
	var matched mirrors.Mirrors
	for i := range set {
		if !set[i].MatchesClient(req.IP, clientASN, asnOK) {
			continue
		}
		if set[i].Monopoly {
			return mirrors.Mirrors{set[i]}, nil
		}
		matched = append(matched, set[i])
	}
	if len(matched) > 0 {
		if len(matched) < cfg.LengthCloudMirrorsList && rec.IsValid() {
			matched = append(matched, s.padding(set, matched, rec,
				cfg.LengthCloudMirrorsList-len(matched))...)
		}
		return matched, nil
	}

	// Geographic pass.
	if !rec.IsValid() {
		shuffled := append(mirrors.Mirrors{}, set...)
		shuffled.Shuffle()
		return truncate(shuffled, cfg.LengthGeoMirrorsList), nil
	}

	sorted := append(mirrors.Mirrors{}, set...)
	sorted.ComputeDistances(rec.Latitude, rec.Longitude)
	sort.Sort(mirrors.ByCountryAndDistance{Mirrors: sorted, Country: rec.Country})
	sorted = mirrors.RandomizeWithinDistance(sorted, rec.Country, cfg.RandomizeWithinKm)
	return truncate(sorted, cfg.LengthGeoMirrorsList), nil
}

// padding fills a short network-affinity selection with the nearest
// public non-cloud mirrors, randomized within the configured radius.
func (s *Selector) padding(set, matched mirrors.Mirrors, rec network.GeoIPRecord, deficit int) mirrors.Mirrors {
	taken := map[string]bool{}
	for i := range matched {
		taken[matched[i].Name] = true
	}

	additional := filterMirrors(set, func(m *mirrors.Mirror) bool {
		return !taken[m.Name] && !m.Private && !m.IsCloud() && m.IsWorking()
	})
	additional.ComputeDistances(rec.Latitude, rec.Longitude)
	sort.Sort(mirrors.ByCountryAndDistance{Mirrors: additional, Country: rec.Country})
	additional = mirrors.RandomizeWithinDistance(additional, rec.Country,
		config.GetConfig().RandomizeWithinKm)
	return truncate(additional, deficit)
}

// vaultURL renders the single URL of an archived version
func (s *Selector) vaultURL(svc *config.Service, version string, req *SelectionRequest, repo *config.Repo) string {
	if req.ISOList {
		return utils.ConcatURL(svc.VaultMirror, path.Join(version, "isos", req.Arch))
	}
	return utils.ConcatURL(svc.VaultMirror, path.Join(version, repoPath(repo, req.Arch)))
}

// renderURLs composes the final URL list in selection order
func renderURLs(set mirrors.Mirrors, req *SelectionRequest, version string, repo *config.Repo) []string {
	urls := make([]string, 0, len(set))
	for i := range set {
		m := &set[i]
		if req.ISOList {
			urls = append(urls, fmt.Sprintf(m.ISOURL, version, req.Arch))
			continue
		}

		base := baseURLFor(m, req)
		if base == "" {
			continue
		}
		urls = append(urls, utils.ConcatURL(base, path.Join(version, repoPath(repo, req.Arch))))
	}
	return urls
}

func baseURLFor(m *mirrors.Mirror, req *SelectionRequest) string {
	urls := m.URLs
	if req.Module != "" {
		urls = m.ModuleURLs[req.Module]
	}
	if req.Protocol != "" {
		return urls[req.Protocol]
	}
	if u, ok := urls["http"]; ok {
		return u
	}
	return urls["https"]
}

func repoPath(repo *config.Repo, arch string) string {
	if repo == nil {
		return ""
	}
	if arch != "" {
		return strings.ReplaceAll(repo.Path, "$basearch", arch)
	}
	return repo.Path
}

func selectionCacheKey(req *SelectionRequest, version string) string {
	kind := "mirrorlist"
	if req.ISOList {
		kind = "isolist"
	}
	return strings.Join([]string{
		"ip_" + kind, req.IP, version, req.Repo, req.Arch,
		req.Protocol, req.Country, req.Module,
	}, "_")
}

func filterMirrors(set mirrors.Mirrors, keep func(*mirrors.Mirror) bool) mirrors.Mirrors {
	var out mirrors.Mirrors
	for i := range set {
		if keep(&set[i]) {
			out = append(out, set[i])
		}
	}
	return out
}

func truncate(set mirrors.Mirrors, limit int) mirrors.Mirrors {
	return set[:utils.Min(len(set), limit)]
}
