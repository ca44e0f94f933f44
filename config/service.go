// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/almalinux/mirrorsvc/core"
	"github.com/almalinux/mirrorsvc/utils"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	service      *Service
	serviceMutex sync.RWMutex

	durationRe = regexp.MustCompile(`^(\d+)\s*(s|sec|secs|seconds?|m|min|mins|minutes?|h|hours?|d|days?)$`)
)

// Repo is a single repository entry of the service declaration
type Repo struct {
	Name     string   `yaml:"name"`
	Path     string   `yaml:"path"`
	Arches   []string `yaml:"arches"`
	Versions []string `yaml:"versions"`
	Vault    bool     `yaml:"vault"`
}

// Service is the global service declaration driving both the update
// pipeline and the request-time selection
type Service struct {
	ConfigVersion          int                 `yaml:"config_version"`
	AllowedOutdate         string              `yaml:"allowed_outdate"`
	MirrorsDir             string              `yaml:"mirrors_dir"`
	VaultMirror            string              `yaml:"vault_mirror"`
	Versions               []string            `yaml:"versions"`
	VaultVersions          []string            `yaml:"vault_versions"`
	DuplicatedVersions     map[string]string   `yaml:"duplicated_versions"`
	OptionalModuleVersions map[string][]string `yaml:"optional_module_versions"`
	Arches                 map[string][]string `yaml:"arches"`
	RequiredProtocols      []string            `yaml:"required_protocols"`
	Repos                  []Repo              `yaml:"repos"`
}

// ServiceConfigPath returns the location of the service declaration
// inside the configuration tree.
func ServiceConfigPath() string {
	return filepath.Join(core.ConfigRoot(), "mirrors/updates/config.yml")
}

// LoadService reads, validates and installs the service declaration.
func LoadService(path string) (*Service, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading service config")
	}
	s, err := ParseService(content)
	if err != nil {
		return nil, errors.Wrapf(err, "in %s", path)
	}

	serviceMutex.Lock()
	service = s
	serviceMutex.Unlock()
	return s, nil
}

// ParseService validates the raw YAML against the schema matching its
// config_version and decodes it.
func ParseService(content []byte) (*Service, error) {
	version, err := declaredConfigVersion(content)
	if err != nil {
		return nil, err
	}
	if err := ValidateSchema(SchemaServiceConfig, version, content); err != nil {
		return nil, err
	}

	s := &Service{ConfigVersion: 1}
	if err := yaml.Unmarshal(content, s); err != nil {
		return nil, err
	}

	if len(s.RequiredProtocols) == 0 {
		s.RequiredProtocols = []string{"https", "http"}
	}
	s.VaultMirror = utils.NormalizeURL(s.VaultMirror)
	if _, err := ParseUpdateWindow(s.AllowedOutdate); err != nil {
		return nil, fmt.Errorf("allowed_outdate: %s", err)
	}
	seen := map[string]bool{}
	for _, r := range s.Repos {
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate repo %q", r.Name)
		}
		seen[r.Name] = true
	}
	return s, nil
}

// GetService returns the currently installed service declaration
func GetService() *Service {
	serviceMutex.RLock()
	defer serviceMutex.RUnlock()

	if service == nil {
		panic("Service configuration not loaded")
	}

	return service
}

// SetService installs a service declaration directly. Only used by tests.
func SetService(s *Service) {
	serviceMutex.Lock()
	service = s
	serviceMutex.Unlock()
}

// AllowedOutdateDuration returns the maximum tolerated mirror lag
func (s *Service) AllowedOutdateDuration() time.Duration {
	d, err := ParseUpdateWindow(s.AllowedOutdate)
	if err != nil {
		// Validated at load time, keep a safe default anyway.
		return 24 * time.Hour
	}
	return d
}

// Repo returns the repository declaration with the given name
func (s *Service) Repo(name string) (*Repo, bool) {
	for i := range s.Repos {
		if s.Repos[i].Name == name {
			return &s.Repos[i], true
		}
	}
	return nil, false
}

// RepoNames returns the names of all declared repositories
func (s *Service) RepoNames() []string {
	names := make([]string, 0, len(s.Repos))
	for _, r := range s.Repos {
		names = append(names, r.Name)
	}
	return names
}

// IsVaultVersion returns true for versions served from the vault only
func (s *Service) IsVaultVersion(version string) bool {
	return utils.IsInSlice(version, s.VaultVersions)
}

// IsActiveVersion returns true for versions currently listed as active
func (s *Service) IsActiveVersion(version string) bool {
	return utils.IsInSlice(version, s.Versions)
}

// NonDuplicatedVersions returns the active versions minus the aliases
// used for client-request normalization
func (s *Service) NonDuplicatedVersions() []string {
	out := make([]string, 0, len(s.Versions))
	for _, v := range s.Versions {
		if _, dup := s.DuplicatedVersions[v]; dup {
			continue
		}
		out = append(out, v)
	}
	return out
}

// ArchesFor returns the arches of a version. Optional-module versions of
// the form "<base>-<module>" inherit the arches of their base version.
func (s *Service) ArchesFor(version string) []string {
	if a, ok := s.Arches[version]; ok {
		return a
	}
	if base, _, found := strings.Cut(version, "-"); found {
		if a, ok := s.Arches[base]; ok {
			return a
		}
	}
	return nil
}

// AllArches returns the union of arches over all versions, sorted by
// first appearance in version order
func (s *Service) AllArches() []string {
	var all []string
	for _, v := range s.Versions {
		for _, a := range s.Arches[v] {
			if !utils.IsInSlice(a, all) {
				all = append(all, a)
			}
		}
	}
	return all
}

func declaredConfigVersion(content []byte) (int, error) {
	var header struct {
		ConfigVersion int `yaml:"config_version"`
	}
	if err := yaml.Unmarshal(content, &header); err != nil {
		return 0, err
	}
	if header.ConfigVersion == 0 {
		return 1, nil
	}
	return header.ConfigVersion, nil
}

// ParseUpdateWindow parses a human-readable interval such as "6h",
// "30 minutes" or "1 day" into a duration.
func ParseUpdateWindow(value string) (time.Duration, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return 0, fmt.Errorf("empty interval")
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	m := durationRe.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("unparsable interval %q", value)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, err
	}
	switch m[2][0] {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unparsable interval %q", value)
}
