/*
handlers.go - HTTP API handlers for the bonus engine

PURPOSE:
  Exposes batch evaluation, stored records, leaderboards and settings via
  REST API. Handles HTTP request/response, JSON serialization, and
  delegates to the ingest, leaderboard and factory packages.

ENDPOINTS:
  Imports:
    POST   /api/imports                              Evaluate a batch (JSON rows or text/csv)
    GET    /api/imports                              Import audit trail

  Records:
    GET    /api/quarters/{quarter}/records           Records of a quarter (?eligible=true|false)
    GET    /api/quarters/{quarter}/records/{id}      One record with evaluation detail

  Leaderboard:
    GET    /api/quarters/{quarter}/leaderboard       Leaderboard (?max=N)
    GET    /api/quarters/{quarter}/leaderboard.csv   CSV export

  Settings:
    GET    /api/settings                             Settings, splits and excluded reps
    PUT    /api/settings                             Update general settings
    GET    /api/settings/splits                      Prize splits
    PUT    /api/settings/splits                      Replace prize splits
    GET    /api/settings/excluded-reps               Excluded sales reps
    PUT    /api/settings/excluded-reps               Replace excluded sales reps

  Likes:
    GET    /api/likes                                All like counts
    POST   /api/likes/{salesman}                     Like a salesperson

  Admin:
    POST   /api/admin/rescan                         Re-evaluate open quarters now

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (ingest, leaderboard, factory)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with an HTTP status derived from the
  generic sentinel errors:
  - 400: Invalid input (quarter key, setting, splits, CSV)
  - 404: Record not found
  - 409: Concurrent modification
  - 503: Record store unavailable
  - 500: Anything else

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/bonus-engine/factory"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/ingest"
	"github.com/warp/bonus-engine/leaderboard"
	"github.com/warp/bonus-engine/observability"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Records     generic.Store
	Settings    generic.SettingsStore
	Runs        generic.ImportRunStore // nil disables GET /api/imports
	Processor   *ingest.Processor
	Leaderboard *leaderboard.Service
	Rescanner   *RescanScheduler // nil disables POST /api/admin/rescan
	Likes       *Likes
	Clock       generic.Clock
	Logger      *zap.Logger
	Metrics     *observability.Metrics

	// MaxImportBytes caps import request bodies.
	MaxImportBytes int64
}

// NewHandler wires a handler around a store that keeps records, settings
// and the import audit trail (store/sqlite.Store does all three).
func NewHandler(store interface {
	generic.Store
	generic.SettingsStore
}, processor *ingest.Processor, lb *leaderboard.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		Records:        store,
		Settings:       store,
		Processor:      processor,
		Leaderboard:    lb,
		Likes:          NewLikes(),
		Clock:          generic.SystemClock{},
		Logger:         logger,
		MaxImportBytes: 10 << 20,
	}
	if runs, ok := store.(generic.ImportRunStore); ok {
		h.Runs = runs
	}
	return h
}

// Health reports whether the record store is reachable.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Records.(generic.Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// IMPORT HANDLERS
// =============================================================================

// ImportRows evaluates a batch of billing rows. The body is either JSON
// ({"rows": [...]}) or a text/csv billing export.
// POST /api/imports
func (h *Handler) ImportRows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxImportBytes)

	var rows []ingest.Row
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/csv" {
		parsed, err := ingest.ReadCSV(r.Body)
		if err != nil {
			writeError(w, bodyStatus(err), "Invalid CSV", err)
			return
		}
		rows = parsed
	} else {
		var req ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, bodyStatus(err), "Invalid request body", err)
			return
		}
		rows = req.Rows
	}

	result, err := h.Processor.EvaluateBatch(ctx, rows)
	if result != nil && len(result.Quarters) > 0 {
		h.Leaderboard.Invalidate(ctx, result.Quarters...)
	}
	if err != nil {
		writeError(w, statusFor(err), "Import failed", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListImports returns the most recent import runs.
// GET /api/imports?limit=N
func (h *Handler) ListImports(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		writeJSON(w, http.StatusOK, []ImportRunDTO{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Runs.ListImportRuns(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), "Failed to list imports", err)
		return
	}
	dtos := make([]ImportRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toImportRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

// ListRecords returns a quarter's records in creation order.
// GET /api/quarters/{quarter}/records?eligible=true
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	quarter, ok := quarterParam(w, r)
	if !ok {
		return
	}

	var filter generic.RecordFilter
	if v := r.URL.Query().Get("eligible"); v != "" {
		eligible, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid eligible filter", err)
			return
		}
		filter.BonusEligible = &eligible
	}

	records, err := h.Records.ListByQuarter(r.Context(), quarter, filter)
	if err != nil {
		writeError(w, statusFor(err), "Failed to list records", err)
		return
	}
	if records == nil {
		records = []generic.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetRecord returns one record and its eligibility as of now.
// GET /api/quarters/{quarter}/records/{id}
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	quarter, ok := quarterParam(w, r)
	if !ok {
		return
	}
	q, _ := quarter.Quarter()

	rec, err := h.Records.Get(r.Context(), generic.RecordKey{QuarterKey: quarter, ID: chi.URLParam(r, "id")})
	if err != nil {
		writeError(w, statusFor(err), "Failed to get record", err)
		return
	}

	now := h.Clock.Now()
	ev := generic.Evaluate(rec.StatusHistory, q.End(), now)
	writeJSON(w, http.StatusOK, RecordDTO{Record: *rec, Evaluation: toEvaluationDTO(ev, now)})
}

// =============================================================================
// LEADERBOARD HANDLERS
// =============================================================================

// GetLeaderboard returns the quarter's leaderboard.
// GET /api/quarters/{quarter}/leaderboard?max=N
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	quarter, ok := quarterParam(w, r)
	if !ok {
		return
	}
	maxShown := 0
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid max", fmt.Errorf("max must be a positive integer, got %q", v))
			return
		}
		maxShown = n
	}

	lb, err := h.Leaderboard.ForQuarter(r.Context(), quarter, maxShown)
	if err != nil {
		writeError(w, statusFor(err), "Failed to build leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

// ExportLeaderboard downloads the quarter's eligible deals as CSV.
// GET /api/quarters/{quarter}/leaderboard.csv
func (h *Handler) ExportLeaderboard(w http.ResponseWriter, r *http.Request) {
	quarter, ok := quarterParam(w, r)
	if !ok {
		return
	}

	// Buffered so a failure can still produce a JSON error.
	var buf bytes.Buffer
	if err := h.Leaderboard.ExportCSV(r.Context(), quarter, &buf); err != nil {
		writeError(w, statusFor(err), "Failed to export leaderboard", err)
		return
	}

	filename := leaderboard.ExportFilename(quarter, h.Clock.Now())
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// GetSettings returns general settings, splits and excluded reps.
// GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	settings, err := h.Settings.ListSettings(ctx)
	if err != nil {
		writeError(w, statusFor(err), "Failed to list settings", err)
		return
	}
	splits, err := h.Settings.ListSplits(ctx)
	if err != nil {
		writeError(w, statusFor(err), "Failed to list splits", err)
		return
	}
	excluded, err := h.Settings.ListExcludedReps(ctx)
	if err != nil {
		writeError(w, statusFor(err), "Failed to list excluded reps", err)
		return
	}

	writeJSON(w, http.StatusOK, SettingsResponse{
		Settings:     toSettingDTOs(settings),
		Splits:       toSplitDTOs(splits),
		ExcludedReps: excluded,
	})
}

// UpdateSettings validates and saves general settings. Nothing is saved
// unless every setting is valid.
// PUT /api/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	settings := make([]generic.Setting, len(req.Settings))
	for i, d := range req.Settings {
		s := generic.Setting{Name: d.Name, Value: d.Value, Description: d.Description, DataType: d.DataType}
		if err := factory.ValidateSetting(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid setting", err)
			return
		}
		settings[i] = s
	}
	for _, s := range settings {
		if err := h.Settings.SaveSetting(ctx, s); err != nil {
			writeError(w, statusFor(err), "Failed to save setting", err)
			return
		}
	}
	h.Leaderboard.Invalidate(ctx)

	h.GetSettings(w, r)
}

// GetSplits returns the prize split table.
// GET /api/settings/splits
func (h *Handler) GetSplits(w http.ResponseWriter, r *http.Request) {
	splits, err := h.Settings.ListSplits(r.Context())
	if err != nil {
		writeError(w, statusFor(err), "Failed to list splits", err)
		return
	}
	writeJSON(w, http.StatusOK, toSplitDTOs(splits))
}

// UpdateSplits replaces the prize split table. Shares must sum to 1.
// PUT /api/settings/splits
func (h *Handler) UpdateSplits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateSplitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	splits := fromSplitDTOs(req.Splits)
	if err := leaderboard.SplitsFrom(splits).Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid splits", err)
		return
	}
	if err := h.Settings.ReplaceSplits(ctx, splits); err != nil {
		writeError(w, statusFor(err), "Failed to save splits", err)
		return
	}
	h.Leaderboard.Invalidate(ctx)

	h.GetSplits(w, r)
}

// GetExcludedReps returns the names kept off the leaderboard.
// GET /api/settings/excluded-reps
func (h *Handler) GetExcludedReps(w http.ResponseWriter, r *http.Request) {
	names, err := h.Settings.ListExcludedReps(r.Context())
	if err != nil {
		writeError(w, statusFor(err), "Failed to list excluded reps", err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// UpdateExcludedReps replaces the excluded sales rep list.
// PUT /api/settings/excluded-reps
func (h *Handler) UpdateExcludedReps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateExcludedRepsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Settings.ReplaceExcludedReps(ctx, req.Names); err != nil {
		writeError(w, statusFor(err), "Failed to save excluded reps", err)
		return
	}
	h.Leaderboard.Invalidate(ctx)

	h.GetExcludedReps(w, r)
}

// =============================================================================
// LIKES HANDLERS
// =============================================================================

// ListLikes returns every like count.
// GET /api/likes
func (h *Handler) ListLikes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Likes.All())
}

// AddLike likes a salesperson.
// POST /api/likes/{salesman}
func (h *Handler) AddLike(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "salesman")
	if name == "" {
		writeError(w, http.StatusBadRequest, "Missing salesman", nil)
		return
	}
	n := h.Likes.Add(name)
	h.Metrics.Like()
	writeJSON(w, http.StatusOK, LikeResponse{Salesman: name, Likes: n})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerRescan re-evaluates the open quarters immediately.
// POST /api/admin/rescan
func (h *Handler) TriggerRescan(w http.ResponseWriter, r *http.Request) {
	if h.Rescanner == nil {
		writeError(w, http.StatusNotFound, "Rescan is not configured", nil)
		return
	}
	results, err := h.Rescanner.RunNow(r.Context())
	if err != nil {
		writeError(w, statusFor(err), "Rescan failed", err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// =============================================================================
// HELPERS
// =============================================================================

func quarterParam(w http.ResponseWriter, r *http.Request) (generic.QuarterKey, bool) {
	key, err := generic.QuarterKey(chi.URLParam(r, "quarter")).Canonical()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quarter", err)
		return "", false
	}
	return key, true
}

// bodyStatus is 413 for an oversized body and 400 otherwise.
func bodyStatus(err error) int {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, generic.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
