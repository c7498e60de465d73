package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tablenorm/internal/csvexport"
	"tablenorm/internal/domain"
	"tablenorm/internal/extractor"
	"tablenorm/internal/port"
)

// PipelineRunner runs the pipeline on one document.
type PipelineRunner interface {
	Run(ctx context.Context, in port.RunInput) (*domain.Summary, error)
}

// RunHandler accepts documents for processing and serves run history.
type RunHandler struct {
	runner    PipelineRunner
	runs      port.RunRepository
	uploadDir string
	maxBytes  int64
	logger    *slog.Logger

	// Runs execute one at a time so credentials are never hit in parallel.
	mu sync.Mutex
}

// NewRunHandler creates a new RunHandler. runs may be nil when history is disabled.
func NewRunHandler(runner PipelineRunner, runs port.RunRepository, uploadDir string, maxBytes int64, logger *slog.Logger) *RunHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunHandler{
		runner:    runner,
		runs:      runs,
		uploadDir: uploadDir,
		maxBytes:  maxBytes,
		logger:    logger.With("component", "run_handler"),
	}
}

// Create handles POST /api/v1/runs
//
// Form fields: file (required), use_ocr (optional bool). Responds 200 with the
// summary of a successful run and 422 with the summary of a failed one.
// Artifacts stay in a per-run directory under the upload dir; the uploaded
// document is removed once the run ends.
//
// @Summary Run the pipeline on a document
// @Description Upload a PDF, XLSX or pre-extracted JSON document and normalize its tables
// @Tags runs
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Document to process (.pdf, .xlsx, .xlsm, .json)"
// @Param use_ocr formData bool false "OCR pages without a text layer"
// @Success 200 {object} APIResponse{data=domain.Summary} "Run succeeded"
// @Failure 400 {object} APIResponse "Missing file, unsupported type or invalid use_ocr"
// @Failure 413 {object} APIResponse "File too large"
// @Failure 422 {object} APIResponse{data=domain.Summary} "Run finished with a failure reason"
// @Failure 500 {object} APIResponse "Internal error"
// @Router /api/v1/runs [post]
func (h *RunHandler) Create(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds maximum allowed size")
			return
		}
		RespondError(c, http.StatusBadRequest, "MISSING_FILE", "file field is required")
		return
	}
	if !extractor.Supports(header.Filename) {
		HandleError(c, h.logger, domain.ErrUnsupportedDocument)
		return
	}

	useOCR := false
	if v := c.PostForm("use_ocr"); v != "" {
		useOCR, err = strconv.ParseBool(v)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "INVALID_USE_OCR", "use_ocr must be a boolean")
			return
		}
	}

	workDir := filepath.Join(h.uploadDir, uuid.New().String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		HandleError(c, h.logger, fmt.Errorf("runHandler.Create: creating work dir: %w", err))
		return
	}
	ext := filepath.Ext(header.Filename)
	name := csvexport.SanitizeFilename(header.Filename[:len(header.Filename)-len(ext)])
	if name == "" {
		name = "document"
	}
	docPath := filepath.Join(workDir, name+ext)
	if err := c.SaveUploadedFile(header, docPath); err != nil {
		h.removeAll(workDir)
		HandleError(c, h.logger, fmt.Errorf("runHandler.Create: saving upload: %w", err))
		return
	}

	h.mu.Lock()
	summary, err := h.runner.Run(c.Request.Context(), port.RunInput{
		DocumentPath: docPath,
		ArtifactDir:  workDir,
		UseOCR:       useOCR,
	})
	h.mu.Unlock()
	if err != nil {
		h.removeAll(workDir)
		HandleError(c, h.logger, err)
		return
	}
	if rmErr := os.Remove(docPath); rmErr != nil {
		h.logger.Warn("removing uploaded document failed", "path", docPath, "error", rmErr)
	}

	if !summary.Succeeded() {
		c.JSON(http.StatusUnprocessableEntity, APIResponse{
			Success: false,
			Data:    summary,
			Error:   &APIError{Code: string(summary.Reason), Message: summary.Guidance},
		})
		return
	}
	RespondOK(c, summary)
}

func (h *RunHandler) removeAll(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		h.logger.Warn("removing work dir failed", "path", dir, "error", err)
	}
}

// List handles GET /api/v1/runs?limit=N
//
// @Summary List recent runs
// @Tags runs
// @Produce json
// @Param limit query int false "Maximum number of runs (1-100)" default(20)
// @Success 200 {object} APIResponse{data=[]domain.Summary,meta=ListMeta} "Recent runs, newest first"
// @Failure 501 {object} APIResponse "Run history is disabled"
// @Router /api/v1/runs [get]
func (h *RunHandler) List(c *gin.Context) {
	if h.runs == nil {
		HandleError(c, h.logger, ErrHistoryDisabled)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	summaries, err := h.runs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		HandleError(c, h.logger, err)
		return
	}
	RespondList(c, summaries, ListMeta{Count: len(summaries), Limit: limit})
}

// GetByID handles GET /api/v1/runs/:id
//
// @Summary Get a run by ID
// @Tags runs
// @Produce json
// @Param id path string true "Run ID (UUID)"
// @Success 200 {object} APIResponse{data=domain.Summary} "Run summary"
// @Failure 400 {object} APIResponse "Invalid ID"
// @Failure 404 {object} APIResponse "Run not found"
// @Failure 501 {object} APIResponse "Run history is disabled"
// @Router /api/v1/runs/{id} [get]
func (h *RunHandler) GetByID(c *gin.Context) {
	if h.runs == nil {
		HandleError(c, h.logger, ErrHistoryDisabled)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ID", "invalid run ID")
		return
	}

	summary, err := h.runs.GetByID(c.Request.Context(), id)
	if err != nil {
		HandleError(c, h.logger, err)
		return
	}
	RespondOK(c, summary)
}
