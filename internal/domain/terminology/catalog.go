package terminology

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultCatalogYAML []byte

// CatalogEdge is a crosswalk entry keyed under its NAMASTE code in the
// catalog file.
type CatalogEdge struct {
	ICDCode     string      `yaml:"icd_code"`
	ICDDisplay  string      `yaml:"icd_display"`
	Module      string      `yaml:"module"`
	Confidence  int         `yaml:"confidence"`
	MappingType MappingType `yaml:"mapping_type"`
}

// Catalog is the NAMASTE reference data and curated crosswalk loaded at
// seed time.
type Catalog struct {
	Concepts  []NamasteConcept         `yaml:"concepts"`
	Crosswalk map[string][]CatalogEdge `yaml:"crosswalk"`
}

// LoadCatalog reads a YAML catalog. An empty path returns the built-in
// catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(content)
}

// DefaultCatalog returns the built-in seed catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(content []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks that every crosswalk source is a catalog concept, that
// no concept or edge is duplicated, and that every edge is well formed.
func (c *Catalog) Validate() error {
	if len(c.Concepts) == 0 {
		return fmt.Errorf("catalog has no concepts")
	}
	known := make(map[string]bool, len(c.Concepts))
	for _, concept := range c.Concepts {
		if concept.Code == "" || concept.Display == "" {
			return fmt.Errorf("catalog concept requires code and display")
		}
		if known[concept.Code] {
			return fmt.Errorf("duplicate catalog concept %s", concept.Code)
		}
		known[concept.Code] = true
	}
	for code, edges := range c.Crosswalk {
		if !known[code] {
			return fmt.Errorf("crosswalk source %s is not a catalog concept", code)
		}
		seen := make(map[string]bool, len(edges))
		for _, ce := range edges {
			if seen[ce.ICDCode] {
				return fmt.Errorf("duplicate crosswalk %s -> %s", code, ce.ICDCode)
			}
			seen[ce.ICDCode] = true
			e := ce.edge(code)
			if err := e.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ce CatalogEdge) edge(namasteCode string) CrosswalkEdge {
	module := ce.Module
	if module == "" {
		module = ModuleBiomedical
	}
	mt := ce.MappingType
	if mt == "" {
		mt = MappingManual
	}
	return CrosswalkEdge{
		NamasteCode: namasteCode,
		ICDCode:     ce.ICDCode,
		ICDDisplay:  ce.ICDDisplay,
		Module:      module,
		Confidence:  ce.Confidence,
		MappingType: mt,
	}
}

// Edges flattens the crosswalk, ordered by NAMASTE code then confidence.
func (c *Catalog) Edges() []CrosswalkEdge {
	codes := make([]string, 0, len(c.Crosswalk))
	for code := range c.Crosswalk {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var edges []CrosswalkEdge
	for _, code := range codes {
		for _, ce := range c.Crosswalk[code] {
			edges = append(edges, ce.edge(code))
		}
	}
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].NamasteCode != edges[j].NamasteCode {
			return edges[i].NamasteCode < edges[j].NamasteCode
		}
		return edges[i].Confidence > edges[j].Confidence
	})
	return edges
}

// ApplyResult counts what Apply wrote.
type ApplyResult struct {
	Concepts int `json:"concepts"`
	Edges    int `json:"edges"`
}

// Apply upserts every concept and edge. Running it twice leaves the same
// rows in place.
func (c *Catalog) Apply(ctx context.Context, namaste NamasteRepository, crosswalk CrosswalkRepository) (ApplyResult, error) {
	var res ApplyResult
	for i := range c.Concepts {
		concept := c.Concepts[i]
		if concept.System == "" {
			concept.System = SystemNamaste
		}
		if err := namaste.Upsert(ctx, &concept); err != nil {
			return res, err
		}
		res.Concepts++
	}
	for _, e := range c.Edges() {
		e := e
		if err := crosswalk.UpsertEdge(ctx, &e); err != nil {
			return res, err
		}
		res.Edges++
	}
	return res, nil
}
