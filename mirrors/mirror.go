// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package mirrors

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"

	"github.com/almalinux/mirrorsvc/network"
	"github.com/almalinux/mirrorsvc/utils"
	"github.com/op/go-logging"
	"gopkg.in/yaml.v3"
)

var log = logging.MustGetLogger("main")

// Mirror status values. Anything else is a free-form failure reason.
const (
	StatusOK      = "ok"
	StatusExpired = "expired"
	UnknownIP     = "Unknown"
)

// Sponsor identifies the organization operating a mirror
type Sponsor struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Geolocation is the administrative location of a mirror or client
type Geolocation struct {
	Continent     string `yaml:"continent" json:"continent"`
	Country       string `yaml:"country" json:"country"`
	StateProvince string `yaml:"state_province" json:"state_province"`
	City          string `yaml:"city" json:"city"`
}

// Location is a point on the globe
type Location struct {
	Latitude  float64 `yaml:"latitude" json:"lat"`
	Longitude float64 `yaml:"longitude" json:"lon"`
}

// Merge fills the fields not pinned by the mirror declaration from a
// resolved record. A field already non-empty and not Unknown stays.
func (g *Geolocation) Merge(resolved Geolocation) {
	if unset(g.Continent) {
		g.Continent = resolved.Continent
	}
	if unset(g.Country) {
		g.Country = resolved.Country
	}
	if unset(g.StateProvince) {
		g.StateProvince = resolved.StateProvince
	}
	if unset(g.City) {
		g.City = resolved.City
	}
}

func unset(v string) bool {
	return v == "" || v == UnknownIP
}

// SubnetsDecl accepts either an inline list of CIDR blocks or a URL
// returning a JSON list of them.
type SubnetsDecl struct {
	List []string
	URL  string
}

// MarshalJSON keeps only the materialized list, the URL form is a
// load-time detail.
func (s SubnetsDecl) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List)
}

// UnmarshalJSON implements json.Unmarshaler
func (s *SubnetsDecl) UnmarshalJSON(content []byte) error {
	return json.Unmarshal(content, &s.List)
}

// UnmarshalYAML implements yaml.Unmarshaler
func (s *SubnetsDecl) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&s.URL)
	case yaml.SequenceNode:
		return value.Decode(&s.List)
	}
	return fmt.Errorf("line %d: subnets must be a list or a URL", value.Line)
}

// ASNList accepts a single AS number or a list, numeric or string form
type ASNList []int

// UnmarshalYAML implements yaml.Unmarshaler
func (a *ASNList) UnmarshalYAML(value *yaml.Node) error {
	parse := func(node *yaml.Node) (int, error) {
		n, err := strconv.Atoi(strings.TrimPrefix(node.Value, "AS"))
		if err != nil {
			return 0, fmt.Errorf("line %d: invalid AS number %q", node.Line, node.Value)
		}
		return n, nil
	}

	if value.Kind == yaml.ScalarNode {
		n, err := parse(value)
		if err != nil {
			return err
		}
		*a = ASNList{n}
		return nil
	}
	if value.Kind == yaml.SequenceNode {
		out := make(ASNList, 0, len(value.Content))
		for _, node := range value.Content {
			n, err := parse(node)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		*a = out
		return nil
	}
	return fmt.Errorf("line %d: asn must be a number or a list", value.Line)
}

// Mirror is the structure representing all the information about a
// mirror: the declared fields read from YAML plus the state computed by
// the update pipeline.
type Mirror struct {
	ID              int                          `yaml:"-" json:"-"`
	Name            string                       `yaml:"name" json:"name"`
	Sponsor         Sponsor                      `yaml:"sponsor" json:"sponsor"`
	Email           string                       `yaml:"email" json:"email"`
	UpdateFrequency string                       `yaml:"update_frequency" json:"update_frequency"`
	URLs            map[string]string            `yaml:"urls" json:"urls"`
	ModuleURLs      map[string]map[string]string `yaml:"module_urls" json:"module_urls,omitempty"`
	Subnets         SubnetsDecl                  `yaml:"subnets" json:"subnets"`
	ASN             ASNList                      `yaml:"asn" json:"asn,omitempty"`
	CloudType       string                       `yaml:"cloud_type" json:"cloud_type,omitempty"`
	CloudRegions    []string                     `yaml:"cloud_regions" json:"cloud_regions,omitempty"`
	Geolocation     Geolocation                  `yaml:"geolocation" json:"geolocation"`
	Private         bool                         `yaml:"private" json:"private"`
	Monopoly        bool                         `yaml:"monopoly" json:"monopoly"`

	// Computed by the update pipeline.
	IP                 string               `yaml:"-" json:"ip"`
	IPv6               bool                 `yaml:"-" json:"ipv6"`
	MirrorURL          string               `yaml:"-" json:"mirror_url"`
	ISOURL             string               `yaml:"-" json:"iso_url"`
	Location           Location             `yaml:"-" json:"location"`
	SubnetRanges       []network.SubnetRange `yaml:"-" json:"subnet_ranges,omitempty"`
	Status             string               `yaml:"-" json:"status"`
	HasFullISOSet      bool                 `yaml:"-" json:"has_full_iso_set"`
	HasOptionalModules []string             `yaml:"-" json:"has_optional_modules,omitempty"`

	// Scratch field for selection, never persisted.
	Distance float64 `yaml:"-" json:"-"`

	Filepath string `yaml:"-" json:"-"`
}

// IsWorking returns true if the last update cycle probed the mirror ok
func (m *Mirror) IsWorking() bool {
	return m.Status == StatusOK
}

// IsCloud returns true for mirrors dedicated to a cloud provider
func (m *Mirror) IsCloud() bool {
	return m.CloudType != ""
}

// BaseURL returns the first URL matching the protocol preference order
func (m *Mirror) BaseURL(protocols []string) string {
	for _, p := range protocols {
		if u, ok := m.URLs[p]; ok {
			return u
		}
	}
	return ""
}

// MatchesClient returns true if the client IP belongs to one of the
// mirror's subnets or its ASN matches the client's.
func (m *Mirror) MatchesClient(ip string, clientASN int, ok bool) bool {
	if addr := net.ParseIP(ip); addr != nil {
		if network.ContainsIP(m.SubnetRanges, addr) {
			return true
		}
	}
	if ok {
		for _, asn := range m.ASN {
			if asn == clientASN {
				return true
			}
		}
	}
	return false
}

// Mirrors represents a slice of Mirror
type Mirrors []Mirror

// Len return the number of Mirror in the slice
func (s Mirrors) Len() int { return len(s) }

// Swap swaps mirrors at index i and j
func (s Mirrors) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// Names returns the mirror names in slice order
func (s Mirrors) Names() []string {
	names := make([]string, 0, len(s))
	for _, m := range s {
		names = append(names, m.Name)
	}
	return names
}

// ComputeDistances fills the scratch Distance field with the
// great-circle distance to the client
func (s Mirrors) ComputeDistances(lat, lon float64) {
	for i := range s {
		s[i].Distance = utils.GetDistanceKm(
			s[i].Location.Latitude, s[i].Location.Longitude, lat, lon)
	}
}

// Shuffle randomizes the order of the slice in place
func (s Mirrors) Shuffle() {
	rand.Shuffle(len(s), s.Swap)
}

// ByCountryAndDistance is used to sort a slice of Mirror by client
// country match first, then by distance. Distances must have been
// computed beforehand.
type ByCountryAndDistance struct {
	Mirrors
	Country string
}

// Less compares two mirrors
func (b ByCountryAndDistance) Less(i, j int) bool {
	mi, mj := &b.Mirrors[i], &b.Mirrors[j]
	matchI := mi.Geolocation.Country == b.Country
	matchJ := mj.Geolocation.Country == b.Country
	if matchI != matchJ {
		return matchI
	}
	return mi.Distance < mj.Distance
}

// RandomizeWithinDistance reshuffles a sorted slice so that nearby
// mirrors don't always come back in the same order. The slice splits
// into four buckets kept in this order: in-country mirrors within the
// radius (shuffled), in-country beyond it, foreign mirrors within the
// radius (shuffled), foreign beyond it.
func RandomizeWithinDistance(sorted Mirrors, country string, radiusKm int) Mirrors {
	var nearHome, farHome, nearAway, farAway Mirrors
	for _, m := range sorted {
		home := m.Geolocation.Country == country
		near := m.Distance <= float64(radiusKm)
		switch {
		case home && near:
			nearHome = append(nearHome, m)
		case home:
			farHome = append(farHome, m)
		case near:
			nearAway = append(nearAway, m)
		default:
			farAway = append(farAway, m)
		}
	}
	nearHome.Shuffle()
	nearAway.Shuffle()

	out := make(Mirrors, 0, len(sorted))
	out = append(out, nearHome...)
	out = append(out, farHome...)
	out = append(out, nearAway...)
	out = append(out, farAway...)
	return out
}
