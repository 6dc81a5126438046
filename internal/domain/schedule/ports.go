package schedule

import "context"

// SectionCatalog resolves the sections offered for a course in a term.
// Implementations return a NotFound error when the course has no sections
// and wrap temporary backend failures as Transient.
type SectionCatalog interface {
	SectionsForCourse(ctx context.Context, term, code string) ([]Section, error)
}
