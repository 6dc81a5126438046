// Package protobuf converts generation domain events to and from their
// protobuf wire representation. Payloads are carried as structpb.Struct
// messages so the schema lives next to the conversion code.
package protobuf

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
	serializationerrors "github.com/ahrav/schedule-armada/internal/infra/eventbus/serialization/errors"
)

// Field names of the wire representation.
const (
	fieldGenerationID = "generationId"
	fieldRemaining    = "remainingCourses"
	fieldPartial      = "partialCombination"
	fieldCreatedAt    = "createdAt"
	fieldCode         = "code"
	fieldSections     = "sections"
	fieldStatus       = "status"
	fieldCount        = "count"
	fieldReason       = "reason"
	fieldFinishedAt   = "finishedAt"

	fieldID       = "id"
	fieldCourse   = "course"
	fieldLabel    = "section"
	fieldTitle    = "title"
	fieldCredits  = "credits"
	fieldCapacity = "capacity"
	fieldFaculty  = "faculty"
	fieldSessions = "sessions"

	fieldDays      = "days"
	fieldStartTime = "startTime"
	fieldEndTime   = "endTime"
	fieldRoom      = "room"
	fieldKind      = "kind"
)

// WorkItemToProto converts a generation.WorkItem into its wire struct.
func WorkItemToProto(w generation.WorkItem) (*structpb.Struct, error) {
	remaining := make([]any, 0, len(w.Remaining))
	for _, c := range w.Remaining {
		sections := make([]any, 0, len(c.Sections))
		for _, s := range c.Sections {
			sections = append(sections, sectionToMap(s))
		}
		remaining = append(remaining, map[string]any{
			fieldCode:     c.Code,
			fieldSections: sections,
		})
	}

	partial := make([]any, 0, len(w.Partial))
	for _, s := range w.Partial {
		partial = append(partial, sectionToMap(s))
	}

	st, err := structpb.NewStruct(map[string]any{
		fieldGenerationID: w.GenerationID.String(),
		fieldRemaining:    remaining,
		fieldPartial:      partial,
		fieldCreatedAt:    w.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("build work item struct: %w", err)
	}
	return st, nil
}

// ProtoToWorkItem converts a wire struct back into a generation.WorkItem.
// Sections are re-validated through the schedule constructors.
func ProtoToWorkItem(st *structpb.Struct) (generation.WorkItem, error) {
	if st == nil {
		return generation.WorkItem{}, serializationerrors.ErrNilEvent{EventType: "WorkItemCreated"}
	}
	fields := st.GetFields()

	genID, err := uuid.Parse(fields[fieldGenerationID].GetStringValue())
	if err != nil {
		return generation.WorkItem{}, serializationerrors.ErrInvalidUUID{Field: fieldGenerationID, Err: err}
	}

	var remaining []schedule.Course
	for i, v := range fields[fieldRemaining].GetListValue().GetValues() {
		cs := v.GetStructValue()
		if cs == nil {
			return generation.WorkItem{}, serializationerrors.ErrInvalidField{Field: fmt.Sprintf("%s[%d]", fieldRemaining, i)}
		}
		sections, err := sectionsFromList(cs.GetFields()[fieldSections].GetListValue())
		if err != nil {
			return generation.WorkItem{}, serializationerrors.ErrInvalidField{Field: fmt.Sprintf("%s[%d]", fieldRemaining, i), Err: err}
		}
		remaining = append(remaining, schedule.Course{
			Code:     cs.GetFields()[fieldCode].GetStringValue(),
			Sections: sections,
		})
	}

	partial, err := sectionsFromList(fields[fieldPartial].GetListValue())
	if err != nil {
		return generation.WorkItem{}, serializationerrors.ErrInvalidField{Field: fieldPartial, Err: err}
	}

	createdAt, err := parseTime(fields[fieldCreatedAt])
	if err != nil {
		return generation.WorkItem{}, serializationerrors.ErrInvalidField{Field: fieldCreatedAt, Err: err}
	}

	return generation.WorkItem{
		GenerationID: genID,
		Remaining:    remaining,
		Partial:      schedule.Combination(partial),
		CreatedAt:    createdAt,
	}, nil
}

// FinishedEventToProto converts a generation.FinishedEvent into its wire struct.
func FinishedEventToProto(e generation.FinishedEvent) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(map[string]any{
		fieldGenerationID: e.GenerationID.String(),
		fieldStatus:       e.Status.String(),
		fieldCount:        e.Count,
		fieldReason:       e.Reason,
		fieldFinishedAt:   e.FinishedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("build finished event struct: %w", err)
	}
	return st, nil
}

// ProtoToFinishedEvent converts a wire struct back into a generation.FinishedEvent.
func ProtoToFinishedEvent(st *structpb.Struct) (generation.FinishedEvent, error) {
	if st == nil {
		return generation.FinishedEvent{}, serializationerrors.ErrNilEvent{EventType: "GenerationFinished"}
	}
	fields := st.GetFields()

	genID, err := uuid.Parse(fields[fieldGenerationID].GetStringValue())
	if err != nil {
		return generation.FinishedEvent{}, serializationerrors.ErrInvalidUUID{Field: fieldGenerationID, Err: err}
	}

	status := generation.ParseStatus(fields[fieldStatus].GetStringValue())
	if status == "" {
		return generation.FinishedEvent{}, serializationerrors.ErrInvalidField{Field: fieldStatus}
	}

	finishedAt, err := parseTime(fields[fieldFinishedAt])
	if err != nil {
		return generation.FinishedEvent{}, serializationerrors.ErrInvalidField{Field: fieldFinishedAt, Err: err}
	}

	return generation.FinishedEvent{
		GenerationID: genID,
		Status:       status,
		Count:        int(fields[fieldCount].GetNumberValue()),
		Reason:       fields[fieldReason].GetStringValue(),
		FinishedAt:   finishedAt,
	}, nil
}

func sectionToMap(s schedule.Section) map[string]any {
	spec := s.Spec()
	sessions := make([]any, 0, len(spec.Sessions))
	for _, ss := range spec.Sessions {
		sessions = append(sessions, map[string]any{
			fieldDays:      ss.Days,
			fieldStartTime: ss.StartTime,
			fieldEndTime:   ss.EndTime,
			fieldRoom:      ss.Room,
			fieldFaculty:   ss.Faculty,
			fieldKind:      ss.Kind,
		})
	}
	return map[string]any{
		fieldID:       spec.ID,
		fieldCourse:   spec.Course,
		fieldLabel:    spec.Label,
		fieldTitle:    spec.Title,
		fieldCredits:  spec.Credits,
		fieldCapacity: spec.Capacity,
		fieldFaculty:  spec.Faculty,
		fieldSessions: sessions,
	}
}

func sectionsFromList(list *structpb.ListValue) ([]schedule.Section, error) {
	values := list.GetValues()
	sections := make([]schedule.Section, 0, len(values))
	for i, v := range values {
		st := v.GetStructValue()
		if st == nil {
			return nil, fmt.Errorf("section %d is not a struct", i)
		}
		s, err := schedule.NewSection(sectionSpecFromStruct(st))
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		sections = append(sections, s)
	}
	return sections, nil
}

func sectionSpecFromStruct(st *structpb.Struct) schedule.SectionSpec {
	f := st.GetFields()
	spec := schedule.SectionSpec{
		ID:       f[fieldID].GetStringValue(),
		Course:   f[fieldCourse].GetStringValue(),
		Label:    f[fieldLabel].GetStringValue(),
		Title:    f[fieldTitle].GetStringValue(),
		Credits:  f[fieldCredits].GetNumberValue(),
		Capacity: f[fieldCapacity].GetStringValue(),
		Faculty:  f[fieldFaculty].GetStringValue(),
	}
	for _, v := range f[fieldSessions].GetListValue().GetValues() {
		sf := v.GetStructValue().GetFields()
		spec.Sessions = append(spec.Sessions, schedule.SessionSpec{
			Days:      sf[fieldDays].GetStringValue(),
			StartTime: sf[fieldStartTime].GetStringValue(),
			EndTime:   sf[fieldEndTime].GetStringValue(),
			Room:      sf[fieldRoom].GetStringValue(),
			Faculty:   sf[fieldFaculty].GetStringValue(),
			Kind:      sf[fieldKind].GetStringValue(),
		})
	}
	return spec
}

func parseTime(v *structpb.Value) (time.Time, error) {
	raw := v.GetStringValue()
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
