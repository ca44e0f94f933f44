// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package mirrors

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/almalinux/mirrorsvc/config"
	"github.com/almalinux/mirrorsvc/network"
	"gopkg.in/yaml.v3"
)

const subnetsFetchTimeout = 10 * time.Second

// LoadDeclarations walks dir for YAML mirror declarations, validates
// each against its schema and returns the loaded set. Mirrors lacking
// every required protocol are dropped, as are duplicate names. A
// malformed file is logged and skipped, it never fails the whole walk.
func LoadDeclarations(dir string, requiredProtocols []string, client *http.Client) (Mirrors, error) {
	var loaded Mirrors
	seen := map[string]string{}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}

		m, err := LoadDeclaration(path, client)
		if err != nil {
			log.Errorf("Skipping %s: %s", path, err)
			return nil
		}
		if m.BaseURL(requiredProtocols) == "" {
			log.Warningf("Skipping %s: no URL for any of the required protocols %v",
				m.Name, requiredProtocols)
			return nil
		}
		if previous, dup := seen[m.Name]; dup {
			log.Errorf("Skipping %s: name already declared in %s", path, previous)
			return nil
		}
		seen[m.Name] = path

		loaded = append(loaded, *m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loaded, nil
}

// LoadDeclaration reads and validates a single mirror declaration.
// Subnets given as a URL are fetched synchronously; on failure the
// subnet list stays empty but the mirror still loads.
func LoadDeclaration(path string, client *http.Client) (*Mirror, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDeclaration(content, path, client)
}

// ParseDeclaration validates and decodes a raw mirror declaration
func ParseDeclaration(content []byte, path string, client *http.Client) (*Mirror, error) {
	var header struct {
		ConfigVersion int `yaml:"config_version"`
	}
	if err := yaml.Unmarshal(content, &header); err != nil {
		return nil, err
	}
	if header.ConfigVersion == 0 {
		header.ConfigVersion = 1
	}
	if err := config.ValidateSchema(config.SchemaMirrorConfig, header.ConfigVersion, content); err != nil {
		return nil, err
	}

	m := &Mirror{}
	if err := yaml.Unmarshal(content, m); err != nil {
		return nil, err
	}
	m.Filepath = path

	if m.Subnets.URL != "" {
		m.Subnets.List = fetchSubnetsList(client, m.Subnets.URL, m.Name)
	}
	m.SubnetRanges = network.ParseSubnets(m.Subnets.List)

	if m.Geolocation.Country != "" {
		m.Geolocation.Country = network.NormalizeCountry(m.Geolocation.Country)
	}
	return m, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}

func fetchSubnetsList(client *http.Client, url, name string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), subnetsFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Warningf("Mirror %s: invalid subnets URL %q: %s", name, url, err)
		return nil
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Warningf("Mirror %s: fetching subnets from %q: %s", name, url, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warningf("Mirror %s: fetching subnets from %q: %s", name, url, resp.Status)
		return nil
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warningf("Mirror %s: reading subnets from %q: %s", name, url, err)
		return nil
	}

	var subnets []string
	if err := json.Unmarshal(content, &subnets); err != nil {
		log.Warningf("Mirror %s: decoding subnets from %q: %s", name, url, err)
		return nil
	}
	return subnets
}
