package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/schedule-armada/internal/domain/schedule"
	"github.com/ahrav/schedule-armada/internal/infra/storage"
)

var _ schedule.SectionCatalog = (*catalogStore)(nil)

// catalogStore serves course sections from the catalog_sections table.
type catalogStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewCatalogStore creates a PostgreSQL-backed section catalog.
func NewCatalogStore(pool *pgxpool.Pool, tracer trace.Tracer) *catalogStore {
	return &catalogStore{db: pool, tracer: tracer}
}

const listSections = `
SELECT section_id, course_code, label, title, credits, capacity, faculty, sessions
FROM catalog_sections
WHERE term = $1 AND course_code = $2
ORDER BY position, section_id`

// SectionsForCourse returns the sections of code in term in catalog order.
func (s *catalogStore) SectionsForCourse(ctx context.Context, term, code string) ([]schedule.Section, error) {
	code = schedule.NormalizeCourseCode(code)
	var sections []schedule.Section
	dbAttrs := storage.Attributes(
		attribute.String("term", term),
		attribute.String("course_code", code),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.sections_for_course", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, listSections, term, code)
		if err != nil {
			return storage.ClassifyError("catalog lookup", fmt.Errorf("query sections: %w", err))
		}

		sections, err = pgx.CollectRows(rows, scanSection)
		if err != nil {
			return storage.ClassifyError("catalog lookup", fmt.Errorf("collect sections: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(sections) == 0 {
		return nil, schedule.NewNotFoundError(term, code)
	}
	return sections, nil
}

func scanSection(row pgx.CollectableRow) (schedule.Section, error) {
	var (
		spec     schedule.SectionSpec
		sessions []byte
	)
	if err := row.Scan(
		&spec.ID, &spec.Course, &spec.Label, &spec.Title,
		&spec.Credits, &spec.Capacity, &spec.Faculty, &sessions,
	); err != nil {
		return schedule.Section{}, err
	}
	if err := json.Unmarshal(sessions, &spec.Sessions); err != nil {
		return schedule.Section{}, fmt.Errorf("unmarshal sessions of %s: %w", spec.ID, err)
	}

	// Rows are validated on import; a failure here means the table was
	// edited by hand.
	sec, err := schedule.NewSection(spec)
	if err != nil {
		return schedule.Section{}, schedule.NewInternalError("decode section "+spec.ID, err)
	}
	return sec, nil
}

const upsertSection = `
INSERT INTO catalog_sections (
    term, course_code, section_id, label, title, credits, capacity, faculty, sessions, position
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (term, course_code, section_id) DO UPDATE
SET label = EXCLUDED.label,
    title = EXCLUDED.title,
    credits = EXCLUDED.credits,
    capacity = EXCLUDED.capacity,
    faculty = EXCLUDED.faculty,
    sessions = EXCLUDED.sessions,
    position = EXCLUDED.position`

// Import upserts sections into term. A section's position within its course
// follows its order in sections.
func (s *catalogStore) Import(ctx context.Context, term string, sections []schedule.Section) error {
	dbAttrs := storage.Attributes(
		attribute.String("term", term),
		attribute.Int("sections", len(sections)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.import_sections", dbAttrs, func(ctx context.Context) error {
		batch := new(pgx.Batch)
		positions := make(map[string]int)
		for _, sec := range sections {
			spec := sec.Spec()
			sessions, err := json.Marshal(spec.Sessions)
			if err != nil {
				return fmt.Errorf("marshal sessions of %s: %w", sec.ID(), err)
			}
			pos := positions[sec.Course()]
			positions[sec.Course()]++

			batch.Queue(upsertSection,
				term,
				sec.Course(),
				sec.ID(),
				sec.Label(),
				sec.Title(),
				sec.Credits(),
				spec.Capacity,
				sec.Faculty(),
				sessions,
				pos,
			)
		}

		if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
			return storage.ClassifyError("catalog import", fmt.Errorf("upsert sections: %w", err))
		}
		return nil
	})
}
