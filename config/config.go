// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/almalinux/mirrorsvc/core"
	"github.com/op/go-logging"
	"gopkg.in/yaml.v3"
)

var (
	log = logging.MustGetLogger("main")

	defaultConfig = configuration{
		ListenAddress:          ":8080",
		UpdateInterval:         60,
		UpdateAuthKey:          "",
		GeocoderURL:            "https://nominatim.openstreetmap.org",
		WhitelistMirrors:       []string{"repo.almalinux.org"},
		RandomizeWithinKm:      500,
		LengthGeoMirrorsList:   10,
		LengthCloudMirrorsList: 10,
		MirrorsListExpiredTime: 7200,
		CacheExpiredTime:       3600,
		FlapExpiredTime:        10800,
		SubnetsExpiredTime:     86400,
		StepConcurrency:        100,
		ISOConcurrency:         3,
		RepoConcurrency:        5,
	}
	config      *configuration
	configMutex sync.RWMutex
)

type configuration struct {
	ListenAddress  string `yaml:"ListenAddress"`
	UpdateInterval int    `yaml:"UpdateInterval"` // minutes between update cycles
	UpdateAuthKey  string `yaml:"UpdateAuthKey"`
	GeocoderURL    string `yaml:"GeocoderURL"`

	// Mirrors listed here are pinned to status ok and never probed.
	WhitelistMirrors []string `yaml:"WhitelistMirrors"`

	// Per-mirror probe restrictions: name -> allowed arches.
	ProbeArchWhitelist map[string][]string `yaml:"ProbeArchWhitelist"`

	RandomizeWithinKm      int `yaml:"RandomizeWithinKm"`
	LengthGeoMirrorsList   int `yaml:"LengthGeoMirrorsList"`
	LengthCloudMirrorsList int `yaml:"LengthCloudMirrorsList"`

	// Cache TTLs, in seconds.
	MirrorsListExpiredTime int `yaml:"MirrorsListExpiredTime"`
	CacheExpiredTime       int `yaml:"CacheExpiredTime"`
	FlapExpiredTime        int `yaml:"FlapExpiredTime"`
	SubnetsExpiredTime     int `yaml:"SubnetsExpiredTime"`

	StepConcurrency int `yaml:"StepConcurrency"`
	ISOConcurrency  int `yaml:"ISOConcurrency"`
	RepoConcurrency int `yaml:"RepoConcurrency"`
}

// LoadConfig loads the configuration file if it has not yet been loaded
func LoadConfig() {
	if config != nil {
		return
	}
	err := ReloadConfig()
	if err != nil {
		log.Fatal(err)
	}
}

// ReloadConfig reloads the configuration file and update it globally
func ReloadConfig() error {
	if core.ConfigFile == "" {
		if fileExists("./mirrorsvc.conf") {
			core.ConfigFile = "./mirrorsvc.conf"
		} else if fileExists("/etc/mirrorsvc.conf") {
			core.ConfigFile = "/etc/mirrorsvc.conf"
		}
	}

	c := defaultConfig

	if core.ConfigFile != "" {
		content, err := os.ReadFile(core.ConfigFile)
		if err != nil {
			return fmt.Errorf("configuration could not be read: %s", err)
		}

		// Overload the default configuration with the user's one
		err = yaml.Unmarshal(content, &c)
		if err != nil {
			return fmt.Errorf("%s in %s", err, core.ConfigFile)
		}
	}

	// Sanitize
	if c.RandomizeWithinKm <= 0 {
		return fmt.Errorf("RandomizeWithinKm must be > 0")
	}
	if c.LengthGeoMirrorsList <= 0 || c.LengthCloudMirrorsList <= 0 {
		return fmt.Errorf("mirror list lengths must be > 0")
	}
	if c.StepConcurrency <= 0 {
		c.StepConcurrency = defaultConfig.StepConcurrency
	}
	if c.UpdateInterval < 0 {
		c.UpdateInterval = 0
	}

	// Lock the pointer during the swap
	configMutex.Lock()
	config = &c
	configMutex.Unlock()

	return nil
}

// GetConfig returns a pointer to a configuration object
func GetConfig() *configuration {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if config == nil {
		panic("Configuration not loaded")
	}

	return config
}

// SetConfiguration installs a configuration directly, bypassing the
// file load path. Only used by tests.
func SetConfiguration(c *configuration) {
	configMutex.Lock()
	config = c
	configMutex.Unlock()
}

// GetDefaultConfiguration returns a copy of the built-in defaults.
// Only used by tests.
func GetDefaultConfiguration() configuration {
	return defaultConfig
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}
