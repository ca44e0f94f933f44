// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/almalinux/mirrorsvc/core"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// SchemaKind selects a schema family of the registry
type SchemaKind string

const (
	// SchemaServiceConfig validates the global service declaration
	SchemaServiceConfig SchemaKind = "service_config"
	// SchemaMirrorConfig validates a per-mirror declaration
	SchemaMirrorConfig SchemaKind = "mirror_config"
)

//go:embed schemas/service_config/*.json schemas/mirror_config/*.json
var embeddedSchemas embed.FS

// ValidateSchema validates a YAML document against the vN.json schema of
// the given kind. Schemas are looked up under SOURCE_PATH first so the
// registry can be extended without a rebuild; the embedded copies serve
// as fallback.
func ValidateSchema(kind SchemaKind, version int, yamlContent []byte) error {
	schema, err := schemaBytes(kind, version)
	if err != nil {
		return err
	}

	var doc interface{}
	if err := yaml.Unmarshal(yamlContent, &doc); err != nil {
		return err
	}
	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(jsonDoc),
	)
	if err != nil {
		return err
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return fmt.Errorf("schema %s/v%d: %s", kind, version, strings.Join(details, "; "))
	}
	return nil
}

func schemaBytes(kind SchemaKind, version int) ([]byte, error) {
	name := fmt.Sprintf("v%d.json", version)

	if dir := core.SourcePath(); dir != "" {
		path := filepath.Join(dir, "json_schemas", string(kind), name)
		if content, err := os.ReadFile(path); err == nil {
			return content, nil
		}
	}

	content, err := embeddedSchemas.ReadFile("schemas/" + string(kind) + "/" + name)
	if err != nil {
		return nil, fmt.Errorf("unknown %s schema version %d", kind, version)
	}
	return content, nil
}
