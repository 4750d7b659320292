package core

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"
)

// Registry is an in-memory ConfigStore. It backs the CLI when no engine
// database table is available and is handy in tests.
type Registry struct {
	mu      sync.RWMutex
	configs map[Key]ImportConfiguration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{configs: make(map[Key]ImportConfiguration)}
}

// Register adds a configuration. The key's schema and table must match the
// configuration's target. Registering the same key twice is an error.
func (r *Registry) Register(key Key, cfg ImportConfiguration) error {
	if cfg.TargetSchema == "" {
		cfg.TargetSchema = key.Schema
	}
	if cfg.TargetTable == "" {
		cfg.TargetTable = key.Table
	}
	if cfg.ImportType == "" {
		cfg.ImportType = ImportInsert
	}
	if cfg.TargetSchema != key.Schema || cfg.TargetTable != key.Table {
		return fmt.Errorf("destination %s targets %s.%s", key, cfg.TargetSchema, cfg.TargetTable)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("destination %s: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[key]; exists {
		return fmt.Errorf("destination already registered: %s", key)
	}
	r.configs[key] = cfg.Clone()
	return nil
}

// Resolve implements ConfigStore.
func (r *Registry) Resolve(_ context.Context, key Key) (ImportConfiguration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[key]
	if !ok {
		return ImportConfiguration{}, newImportError(KindConfigurationNotFound, nil,
			"no import configuration for %s.%s in %s/%s", key.Schema, key.Table, key.Repository, key.Project)
	}
	return cfg.Clone(), nil
}

// Keys returns every registered key sorted by repository, project, schema
// then table.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Key, 0, len(r.configs))
	for k := range r.configs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Repository != b.Repository {
			return a.Repository < b.Repository
		}
		if a.Project != b.Project {
			return a.Project < b.Project
		}
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		return a.Table < b.Table
	})
	return keys
}

// Len returns the number of registered destinations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// destinationFile is the on-disk layout read by LoadRegistryFile.
type destinationFile struct {
	Destinations []struct {
		Key                  `yaml:",inline"`
		TargetFields         []string `yaml:"target_fields"`
		GeometrySource       string   `yaml:"geometry_source"`
		UniqueIDField        string   `yaml:"unique_id_field"`
		ImportType           string   `yaml:"import_type"`
		DuplicateCheckFields []string `yaml:"duplicate_check_fields"`
	} `yaml:"destinations"`
}

// LoadRegistryFile reads destinations from a YAML file:
//
//	destinations:
//	  - repository: demo
//	    project: trees
//	    schema: public
//	    table: tree
//	    target_fields: [species, height]
//	    geometry_source: lonlat
//	    unique_id_field: uid
//	    import_type: insert
//	    duplicate_check_fields: [uid]
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read destinations: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry is LoadRegistryFile for in-memory YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var file destinationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse destinations: %w", err)
	}

	reg := NewRegistry()
	for i, d := range file.Destinations {
		geom, err := ParseGeometrySource(d.GeometrySource)
		if err != nil {
			return nil, fmt.Errorf("destination %d (%s): %w", i+1, d.Key, err)
		}
		it, err := ParseImportType(d.ImportType)
		if err != nil {
			return nil, fmt.Errorf("destination %d (%s): %w", i+1, d.Key, err)
		}
		cfg := ImportConfiguration{
			TargetSchema:         d.Schema,
			TargetTable:          d.Table,
			RequiredFields:       d.TargetFields,
			GeometrySource:       geom,
			UniqueIDField:        d.UniqueIDField,
			ImportType:           it,
			DuplicateCheckFields: d.DuplicateCheckFields,
		}
		if err := reg.Register(d.Key, cfg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
