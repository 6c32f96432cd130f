package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"dosimetry-platform/internal/models"
	"dosimetry-platform/internal/repository"
	"dosimetry-platform/internal/services"
	"dosimetry-platform/pkg/logging"
	"dosimetry-platform/pkg/metrics"
)

// CalculatorHandler handles dose calculation and audit endpoints
type CalculatorHandler struct {
	calcService *services.CalculationService
	envService  *services.EnvironmentService
	runs        repository.RunRepository
	settings    repository.SettingsRepository
	logger      *logging.StructuredLogger
	metrics     *metrics.Collector
}

// NewCalculatorHandler creates a new calculator handler
func NewCalculatorHandler(
	calcService *services.CalculationService,
	envService *services.EnvironmentService,
	runs repository.RunRepository,
	settings repository.SettingsRepository,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *CalculatorHandler {
	return &CalculatorHandler{
		calcService: calcService,
		envService:  envService,
		runs:        runs,
		settings:    settings,
		logger:      logger,
		metrics:     metricsCollector,
	}
}

// calculationResponse wraps a completed run with an optional warning about
// non-fatal persistence problems.
type calculationResponse struct {
	Run     *models.CalculationRun `json:"run"`
	Warning string                 `json:"warning,omitempty"`
}

// Calculate handles POST /api/calculations
func (h *CalculatorHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/calculations").Observe(duration.Seconds())
	}()

	var req models.CalculationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "invalid JSON body", http.StatusBadRequest)
		return
	}

	run, err := h.calcService.Calculate(ctx, &req)
	if err != nil {
		h.sendServiceError(w, r, err, "calculation failed")
		return
	}

	response := calculationResponse{Run: run}

	// The dose is already computed; a failed audit write must not turn a
	// successful calculation into an error.
	if err := h.runs.CreateRun(ctx, run); err != nil {
		h.logger.Error(ctx, "[RUN_PERSIST_ERROR] Failed to record calculation run", logging.Fields{
			"run_id": run.ID.String(),
		}, err)
		h.metrics.RunPersistFailures.Inc()
		response.Warning = "calculation succeeded but the run could not be recorded"
	}

	h.metrics.RecordAPIRequest("/api/calculations", "POST", "200")
	sendJSON(w, response, http.StatusOK)
}

// environmentPreview is the response body for the resolver preview endpoint
type environmentPreview struct {
	Reading        *models.EnvironmentalReading `json:"reading"`
	DatasetVersion int                          `json:"dataset_version,omitempty"`
}

// PreviewEnvironment handles GET /api/environment/preview
func (h *CalculatorHandler) PreviewEnvironment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/environment/preview").Observe(duration.Seconds())
	}()

	source, err := h.settings.GetEnvironmentSource(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_PREVIEW_ERROR] Failed to read environment source", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/environment/preview")
		h.sendError(w, r, "failed to read environment source", http.StatusInternalServerError)
		return
	}

	reading, datasetVersion, err := h.envService.Resolve(ctx, source, r.URL.Query().Get("location"))
	if err != nil {
		h.sendServiceError(w, r, err, "failed to resolve environment")
		return
	}

	h.metrics.RecordAPIRequest("/api/environment/preview", "GET", "200")
	sendJSON(w, environmentPreview{Reading: reading, DatasetVersion: datasetVersion}, http.StatusOK)
}

// ListRuns handles GET /api/runs
func (h *CalculatorHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/runs").Observe(duration.Seconds())
	}()

	page, limit, offset := parsePagination(r, 100, 500)

	runs, total, err := h.runs.ListRuns(ctx, limit, offset)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_RUNS_ERROR] Failed to list calculation runs", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/runs")
		h.sendError(w, r, "failed to list calculation runs", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/runs", "GET", "200")
	sendJSON(w, paginated(runs, total, page, limit), http.StatusOK)
}

// GetRun handles GET /api/runs/{id}
func (h *CalculatorHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/runs/detail").Observe(duration.Seconds())
	}()

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, r, "invalid run id", http.StatusBadRequest)
		return
	}

	run, err := h.runs.GetRun(ctx, id)
	if err != nil {
		h.sendServiceError(w, r, err, "failed to retrieve run")
		return
	}

	h.metrics.RecordAPIRequest("/api/runs/detail", "GET", "200")
	sendJSON(w, run, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *CalculatorHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	sendJSON(w, status, http.StatusOK)
}

// sendError sends an error response
func (h *CalculatorHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))
	sendJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// sendServiceError maps a domain error to its HTTP status
func (h *CalculatorHandler) sendServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	statusCode := statusForError(err)
	if statusCode == http.StatusInternalServerError {
		h.logger.Error(r.Context(), "[API_CALC_ERROR] Request failed", logging.Fields{
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

// RegisterRoutes registers calculator, audit, and health routes
func (h *CalculatorHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/calculations", h.Calculate).Methods("POST")
	router.HandleFunc("/api/environment/preview", h.PreviewEnvironment).Methods("GET")
	router.HandleFunc("/api/runs", h.ListRuns).Methods("GET")
	router.HandleFunc("/api/runs/{id}", h.GetRun).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
