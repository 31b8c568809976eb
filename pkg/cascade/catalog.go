// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Catalog is a registry of function definitions keyed by id.
type Catalog struct {
	mu        sync.RWMutex
	functions map[string]FunctionDefinition
}

type catalogFile struct {
	Functions []FunctionDefinition `json:"functions" yaml:"functions"`
}

// NewCatalog creates a catalog holding defs.
func NewCatalog(defs ...FunctionDefinition) (*Catalog, error) {
	c := &Catalog{functions: make(map[string]FunctionDefinition, len(defs))}
	for _, def := range defs {
		if err := c.Register(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadCatalog reads a catalog file. Files ending in .json are parsed as JSON,
// everything else as YAML.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseCatalogJSON(data)
	}
	return ParseCatalogYAML(data)
}

// ParseCatalogYAML parses a YAML document with a top-level functions list.
func ParseCatalogYAML(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	return NewCatalog(file.Functions...)
}

// ParseCatalogJSON parses a JSON document with a top-level functions list.
func ParseCatalogJSON(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog json: %w", err)
	}
	return NewCatalog(file.Functions...)
}

// Register adds or replaces a definition after validating it.
func (c *Catalog) Register(def FunctionDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.functions == nil {
		c.functions = make(map[string]FunctionDefinition)
	}
	c.functions[def.ID] = def
	return nil
}

// Get returns the definition registered under id.
func (c *Catalog) Get(id string) (FunctionDefinition, bool) {
	if c == nil {
		return FunctionDefinition{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.functions[id]
	return def, ok
}

// List returns all definitions sorted by id.
func (c *Catalog) List() []FunctionDefinition {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	out := make([]FunctionDefinition, 0, len(c.functions))
	for _, def := range c.functions {
		out = append(out, def)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered functions.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.functions)
}

// Validate re-checks every definition and returns one error per invalid entry.
func (c *Catalog) Validate() []error {
	var errs []error
	for _, def := range c.List() {
		if err := def.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
