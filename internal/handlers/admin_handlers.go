package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"dosimetry-platform/internal/models"
	"dosimetry-platform/internal/repository"
	"dosimetry-platform/internal/services"
	"dosimetry-platform/pkg/logging"
	"dosimetry-platform/pkg/metrics"
)

// maxUploadBytes bounds the in-memory portion of multipart dataset uploads.
const maxUploadBytes = 32 << 20

// AdminHandler handles reference store administration endpoints
type AdminHandler struct {
	datasetService *services.DatasetService
	formulaService *services.FormulaService
	settings       repository.SettingsRepository
	logger         *logging.StructuredLogger
	metrics        *metrics.Collector
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	datasetService *services.DatasetService,
	formulaService *services.FormulaService,
	settings repository.SettingsRepository,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *AdminHandler {
	return &AdminHandler{
		datasetService: datasetService,
		formulaService: formulaService,
		settings:       settings,
		logger:         logger,
		metrics:        metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Code    int      `json:"code"`
	Details []string `json:"details,omitempty"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// UploadDataset handles POST /api/admin/datasets
func (h *AdminHandler) UploadDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/admin/datasets").Observe(duration.Seconds())
	}()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.sendError(w, r, "invalid multipart form", http.StatusBadRequest)
		return
	}

	datasetType, err := models.ParseDatasetType(r.FormValue("dataset_type"))
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		h.sendError(w, r, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	version, err := h.datasetService.CreateVersionFromUpload(ctx, datasetType, fileHeader.Filename, file, r.FormValue("notes"), r.FormValue("created_by"))
	if err != nil {
		h.sendServiceError(w, r, err, "failed to store dataset version")
		return
	}

	h.metrics.RecordAPIRequest("/api/admin/datasets", "POST", "201")
	sendJSON(w, version, http.StatusCreated)
}

// ListDatasets handles GET /api/admin/datasets
func (h *AdminHandler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/admin/datasets").Observe(duration.Seconds())
	}()

	page, limit, offset := parsePagination(r, 100, 1000)

	filter := repository.DatasetVersionFilter{
		Limit:  limit,
		Offset: offset,
	}

	if typeStr := r.URL.Query().Get("dataset_type"); typeStr != "" {
		datasetType, err := models.ParseDatasetType(typeStr)
		if err != nil {
			h.sendError(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		filter.DatasetType = &datasetType
	}

	if r.URL.Query().Get("active") == "true" {
		filter.ActiveOnly = true
	}

	versions, total, err := h.datasetService.List(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_DATASETS_ERROR] Failed to list dataset versions", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/admin/datasets")
		h.sendError(w, r, "failed to list dataset versions", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/admin/datasets", "GET", "200")
	sendJSON(w, paginated(versions, total, page, limit), http.StatusOK)
}

// ActivateDataset handles POST /api/admin/datasets/{id}/activate
func (h *AdminHandler) ActivateDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/admin/datasets/activate").Observe(duration.Seconds())
	}()

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.sendError(w, r, "invalid dataset version id", http.StatusBadRequest)
		return
	}

	version, err := h.datasetService.Activate(ctx, id)
	if err != nil {
		h.sendServiceError(w, r, err, "failed to activate dataset version")
		return
	}

	h.metrics.RecordAPIRequest("/api/admin/datasets/activate", "POST", "200")
	sendJSON(w, version, http.StatusOK)
}

// formulaRequest is the JSON body for POST /api/admin/formulas
type formulaRequest struct {
	Expression string   `json:"expression"`
	Variables  []string `json:"variables"`
	Notes      string   `json:"notes"`
	CreatedBy  string   `json:"created_by"`
}

// CreateFormula handles POST /api/admin/formulas
func (h *AdminHandler) CreateFormula(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/admin/formulas").Observe(duration.Seconds())
	}()

	var req formulaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "invalid JSON body", http.StatusBadRequest)
		return
	}

	version, err := h.formulaService.Create(ctx, req.Expression, req.Variables, req.Notes, req.CreatedBy)
	if err != nil {
		h.sendServiceError(w, r, err, "failed to store formula version")
		return
	}

	h.metrics.RecordAPIRequest("/api/admin/formulas", "POST", "201")
	sendJSON(w, version, http.StatusCreated)
}

// ListFormulas handles GET /api/admin/formulas
func (h *AdminHandler) ListFormulas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/admin/formulas").Observe(duration.Seconds())
	}()

	page, limit, offset := parsePagination(r, 100, 1000)

	versions, total, err := h.formulaService.List(ctx, limit, offset)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_FORMULAS_ERROR] Failed to list formula versions", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/admin/formulas")
		h.sendError(w, r, "failed to list formula versions", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/admin/formulas", "GET", "200")
	sendJSON(w, paginated(versions, total, page, limit), http.StatusOK)
}

// ActivateFormula handles POST /api/admin/formulas/{id}/activate
func (h *AdminHandler) ActivateFormula(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/admin/formulas/activate").Observe(duration.Seconds())
	}()

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.sendError(w, r, "invalid formula version id", http.StatusBadRequest)
		return
	}

	version, err := h.formulaService.Activate(ctx, id)
	if err != nil {
		h.sendServiceError(w, r, err, "failed to activate formula version")
		return
	}

	h.metrics.RecordAPIRequest("/api/admin/formulas/activate", "POST", "200")
	sendJSON(w, version, http.StatusOK)
}

// environmentSettingBody is the JSON body for the environment setting endpoints
type environmentSettingBody struct {
	Source string `json:"source"`
}

// GetEnvironmentSetting handles GET /api/admin/settings/environment
func (h *AdminHandler) GetEnvironmentSetting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	source, err := h.settings.GetEnvironmentSource(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_SETTING_ERROR] Failed to read environment source", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/admin/settings/environment")
		h.sendError(w, r, "failed to read environment source", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/admin/settings/environment", "GET", "200")
	sendJSON(w, environmentSettingBody{Source: string(source)}, http.StatusOK)
}

// UpdateEnvironmentSetting handles PUT /api/admin/settings/environment
func (h *AdminHandler) UpdateEnvironmentSetting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body environmentSettingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendError(w, r, "invalid JSON body", http.StatusBadRequest)
		return
	}

	source, ok := models.ParseEnvironmentSource(body.Source)
	if !ok {
		h.sendError(w, r, "source must be one of: dataset, live", http.StatusBadRequest)
		return
	}

	if err := h.settings.SetEnvironmentSource(ctx, source); err != nil {
		h.logger.Error(ctx, "[API_SET_SETTING_ERROR] Failed to update environment source", logging.Fields{
			"source": source,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/admin/settings/environment")
		h.sendError(w, r, "failed to update environment source", http.StatusInternalServerError)
		return
	}

	h.logger.Info(ctx, "[SETTINGS_UPDATED] Environment source updated", logging.Fields{
		"source": source,
	})

	h.metrics.RecordAPIRequest("/api/admin/settings/environment", "PUT", "200")
	sendJSON(w, environmentSettingBody{Source: string(source)}, http.StatusOK)
}

// sendError sends an error response
func (h *AdminHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))
	sendJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// sendServiceError maps a service error to its HTTP status
func (h *AdminHandler) sendServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	statusCode := statusForError(err)
	if statusCode == http.StatusInternalServerError {
		h.logger.Error(r.Context(), "[API_ADMIN_ERROR] Request failed", logging.Fields{
			"path": r.URL.Path,
		}, err)
		h.metrics.RecordAPIError("internal_error", r.URL.Path)
		h.sendError(w, r, fallback, statusCode)
		return
	}

	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))
	sendJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: err.Error(),
		Code:    statusCode,
		Details: errorDetails(err),
	}, statusCode)
}

// RegisterRoutes registers all admin API routes
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/admin/datasets", h.UploadDataset).Methods("POST")
	router.HandleFunc("/api/admin/datasets", h.ListDatasets).Methods("GET")
	router.HandleFunc("/api/admin/datasets/{id}/activate", h.ActivateDataset).Methods("POST")
	router.HandleFunc("/api/admin/formulas", h.CreateFormula).Methods("POST")
	router.HandleFunc("/api/admin/formulas", h.ListFormulas).Methods("GET")
	router.HandleFunc("/api/admin/formulas/{id}/activate", h.ActivateFormula).Methods("POST")
	router.HandleFunc("/api/admin/settings/environment", h.GetEnvironmentSetting).Methods("GET")
	router.HandleFunc("/api/admin/settings/environment", h.UpdateEnvironmentSetting).Methods("PUT")
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// paginated wraps a listing in the standard envelope
func paginated(data interface{}, total, page, limit int) PaginatedResponse {
	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
}

// parsePagination extracts page and limit query parameters with bounds
func parsePagination(r *http.Request, defaultLimit, maxLimit int) (page, limit, offset int) {
	page = 1
	limit = defaultLimit

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxLimit {
		limit = l
	}

	return page, limit, (page - 1) * limit
}

// statusForError maps domain errors to HTTP status codes
func statusForError(err error) int {
	var validationErr *models.ValidationError
	var schemaErr *models.SchemaError
	var formulaErr *services.FormulaError
	var notFound *repository.NotFoundError
	var noActive *repository.NoActiveVersionError
	var lookupMiss *services.LookupMissError
	var envErr *services.EnvironmentalDataUnavailableError

	switch {
	case errors.As(err, &validationErr), errors.As(err, &schemaErr), errors.As(err, &formulaErr):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &noActive):
		return http.StatusConflict
	case errors.As(err, &lookupMiss):
		return http.StatusUnprocessableEntity
	case errors.As(err, &envErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorDetails extracts per-row or per-variable violations when present
func errorDetails(err error) []string {
	var schemaErr *models.SchemaError
	if errors.As(err, &schemaErr) {
		return schemaErr.Violations
	}

	var formulaErr *services.FormulaError
	if errors.As(err, &formulaErr) {
		return formulaErr.Violations
	}

	return nil
}
