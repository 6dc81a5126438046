package generationapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
)

// filtersRequest is the wire form of the request filters.
type filtersRequest struct {
	ExcludeDays    []string `json:"excludeDays" validate:"omitempty,dive,required"`
	ExcludeFaculty []string `json:"excludeFaculty"`
}

// generateRequest is the body of both generation endpoints.
type generateRequest struct {
	Term        string         `json:"term" validate:"required"`
	CourseCodes []string       `json:"courseCodes" validate:"required,min=1,max=12,dive,required"`
	Filters     filtersRequest `json:"filters"`
	Limit       int            `json:"limit" validate:"gte=0"`
	DeadlineMS  int            `json:"deadline_ms" validate:"gte=0"`
}

func (r generateRequest) toDomain(userID string) (generation.Request, error) {
	return generation.NewRequest(r.Term, r.CourseCodes, schedule.FilterSpec{
		ExcludeDays:    r.Filters.ExcludeDays,
		ExcludeFaculty: r.Filters.ExcludeFaculty,
	}, userID)
}

func (r generateRequest) deadline() time.Duration {
	return time.Duration(r.DeadlineMS) * time.Millisecond
}

// combinationView is one combination in a response.
type combinationView struct {
	SectionIDs []string           `json:"sectionIds"`
	Sections   []schedule.Section `json:"sections"`
	Weekly     *schedule.Week     `json:"weekly,omitempty"`
}

func toCombinationViews(combos []schedule.Combination, weekly bool) []combinationView {
	views := make([]combinationView, len(combos))
	for i, c := range combos {
		views[i] = combinationView{SectionIDs: c.SectionIDs(), Sections: c}
		if weekly {
			w := schedule.WeeklyTemplate(c)
			views[i].Weekly = &w
		}
	}
	return views
}

// syncResponse is the result of a synchronous generation.
type syncResponse struct {
	Status       schedule.Outcome  `json:"status"`
	GenerationID string            `json:"generationId"`
	Count        int               `json:"count"`
	Combinations []combinationView `json:"combinations"`
}

// Encode implements the web.Encoder interface.
func (sr syncResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(sr)
	return data, "application/json", err
}

// kickoffResponse acknowledges an asynchronous generation.
type kickoffResponse struct {
	GenerationID string            `json:"generationId"`
	Status       generation.Status `json:"status"`
	Limit        int               `json:"limit"`
}

// Encode implements the web.Encoder interface.
func (kr kickoffResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(kr)
	return data, "application/json", err
}

// HTTPStatus reports the request as accepted for processing.
func (kickoffResponse) HTTPStatus() int { return http.StatusAccepted }

// generationResponse is a record with its combinations.
type generationResponse struct {
	Generation   *generation.Generation `json:"generation"`
	Combinations []combinationView      `json:"combinations"`
}

// Encode implements the web.Encoder interface.
func (gr generationResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(gr)
	return data, "application/json", err
}

// recordResponse is a record without combinations.
type recordResponse struct {
	*generation.Generation
}

// Encode implements the web.Encoder interface.
func (rr recordResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(rr.Generation)
	return data, "application/json", err
}
