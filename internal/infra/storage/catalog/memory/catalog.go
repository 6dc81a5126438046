// Package memory provides an in-memory section catalog, optionally seeded
// from a YAML fixture file.
package memory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/schedule-armada/internal/domain/schedule"
)

var _ schedule.SectionCatalog = (*Catalog)(nil)

// Fixture is the on-disk catalog layout.
type Fixture struct {
	Terms []TermFixture `yaml:"terms"`
}

// TermFixture lists the sections offered in one term.
type TermFixture struct {
	Term     string                 `yaml:"term"`
	Sections []schedule.SectionSpec `yaml:"sections"`
}

type courseKey struct{ term, code string }

// Catalog serves sections from memory. Sections for a course are returned in
// the order they were added.
type Catalog struct {
	mu       sync.RWMutex
	sections map[courseKey][]schedule.Section
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{sections: make(map[courseKey][]schedule.Section)}
}

// LoadFile builds a catalog from the YAML fixture at path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Load(data)
}

// Load builds a catalog from YAML fixture data. Every section is validated;
// the first invalid section aborts the load.
func Load(data []byte) (*Catalog, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := NewCatalog()
	for _, term := range fx.Terms {
		sections := make([]schedule.Section, 0, len(term.Sections))
		for i, spec := range term.Sections {
			s, err := schedule.NewSection(spec)
			if err != nil {
				return nil, fmt.Errorf("term %q section %d: %w", term.Term, i, err)
			}
			sections = append(sections, s)
		}
		c.Add(term.Term, sections...)
	}
	return c, nil
}

// Add appends sections to term. Sections are grouped by their course code.
func (c *Catalog) Add(term string, sections ...schedule.Section) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range sections {
		k := courseKey{term: term, code: s.Course()}
		c.sections[k] = append(c.sections[k], s)
	}
}

// Terms returns every term with its sections, for seeding other stores.
func (c *Catalog) Terms() map[string][]schedule.Section {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]schedule.Section)
	for k, secs := range c.sections {
		out[k.term] = append(out[k.term], secs...)
	}
	return out
}

// SectionsForCourse returns the sections of code in term, or a NotFound
// error when there are none.
func (c *Catalog) SectionsForCourse(ctx context.Context, term, code string) ([]schedule.Section, error) {
	if err := ctx.Err(); err != nil {
		return nil, schedule.NewTransientError("catalog lookup", err)
	}

	code = schedule.NormalizeCourseCode(code)
	c.mu.RLock()
	defer c.mu.RUnlock()

	secs := c.sections[courseKey{term: term, code: code}]
	if len(secs) == 0 {
		return nil, schedule.NewNotFoundError(term, code)
	}
	out := make([]schedule.Section, len(secs))
	copy(out, secs)
	return out, nil
}
