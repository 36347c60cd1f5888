/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Imports:     ImportRequest, ImportRunDTO
  Records:     RecordDTO, EvaluationDTO
  Settings:    SettingDTO, SplitDTO, SettingsResponse, UpdateSettingsRequest
  Likes:       LikeResponse

VALIDATION:
  Validation is done in handlers and the factory package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/ingest"
)

// =============================================================================
// IMPORT DTOs
// =============================================================================

// ImportRequest is the JSON body of POST /api/imports.
type ImportRequest struct {
	Rows []ingest.Row `json:"rows"`
}

// ImportRunDTO is one entry of the import audit trail.
type ImportRunDTO struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	Rows        int        `json:"rows"`
	Processed   int        `json:"processed"`
	Skipped     int        `json:"skipped"`
	Filtered    int        `json:"filtered"`
	Failed      int        `json:"failed"`
	Eligible    int        `json:"eligible"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toImportRunDTO(r generic.ImportRun) ImportRunDTO {
	return ImportRunDTO{
		ID:          r.ID,
		Source:      r.Source,
		Status:      r.Status,
		Rows:        r.Rows,
		Processed:   r.Processed,
		Skipped:     r.Skipped,
		Filtered:    r.Filtered,
		Failed:      r.Failed,
		Eligible:    r.Eligible,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

// =============================================================================
// RECORD DTOs
// =============================================================================

// EvaluationDTO explains a record's eligibility as of EvaluatedAt.
type EvaluationDTO struct {
	Eligible    bool       `json:"eligible"`
	Reason      string     `json:"reason"`
	RunStart    *time.Time `json:"run_start,omitempty"`
	RunDays     int        `json:"run_days"`
	EvaluatedAt time.Time  `json:"evaluated_at"`
}

// RecordDTO is a stored record, optionally with its evaluation.
type RecordDTO struct {
	generic.Record
	Evaluation *EvaluationDTO `json:"evaluation,omitempty"`
}

func toEvaluationDTO(ev generic.Evaluation, at time.Time) *EvaluationDTO {
	dto := &EvaluationDTO{
		Eligible:    ev.Eligible,
		Reason:      string(ev.Reason),
		RunDays:     ev.RunDays,
		EvaluatedAt: at,
	}
	if !ev.RunStart.IsZero() {
		start := ev.RunStart
		dto.RunStart = &start
	}
	return dto
}

// =============================================================================
// SETTINGS DTOs
// =============================================================================

// SettingDTO is one general setting.
type SettingDTO struct {
	Name        string              `json:"name"`
	Value       string              `json:"value"`
	Description string              `json:"description,omitempty"`
	DataType    generic.SettingType `json:"data_type,omitempty"`
}

// SplitDTO is one prize split.
type SplitDTO struct {
	Place      int             `json:"place"`
	Percentage decimal.Decimal `json:"percentage"`
}

// SettingsResponse is GET /api/settings.
type SettingsResponse struct {
	Settings     []SettingDTO `json:"settings"`
	Splits       []SplitDTO   `json:"splits"`
	ExcludedReps []string     `json:"excluded_reps"`
}

// UpdateSettingsRequest is PUT /api/settings.
type UpdateSettingsRequest struct {
	Settings []SettingDTO `json:"settings"`
}

// UpdateSplitsRequest is PUT /api/settings/splits.
type UpdateSplitsRequest struct {
	Splits []SplitDTO `json:"splits"`
}

// UpdateExcludedRepsRequest is PUT /api/settings/excluded-reps.
type UpdateExcludedRepsRequest struct {
	Names []string `json:"names"`
}

func toSettingDTOs(settings []generic.Setting) []SettingDTO {
	dtos := make([]SettingDTO, len(settings))
	for i, s := range settings {
		dtos[i] = SettingDTO{Name: s.Name, Value: s.Value, Description: s.Description, DataType: s.DataType}
	}
	return dtos
}

func toSplitDTOs(splits []generic.Split) []SplitDTO {
	dtos := make([]SplitDTO, len(splits))
	for i, s := range splits {
		dtos[i] = SplitDTO{Place: s.Place, Percentage: s.Percentage}
	}
	return dtos
}

func fromSplitDTOs(dtos []SplitDTO) []generic.Split {
	splits := make([]generic.Split, len(dtos))
	for i, d := range dtos {
		splits[i] = generic.Split{Place: d.Place, Percentage: d.Percentage}
	}
	return splits
}

// =============================================================================
// MISC DTOs
// =============================================================================

// LikeResponse is the like count of one salesperson.
type LikeResponse struct {
	Salesman string `json:"salesman"`
	Likes    int    `json:"likes"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
