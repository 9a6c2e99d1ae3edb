package scan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/zombor/game-scanner/internal/inference"
)

const maxJSONBodyBytes = 1 << 20

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Session-Id")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// errorStatus maps a service error onto an HTTP status and error code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ErrScanNotReady):
		return http.StatusBadRequest, "SCAN_NOT_READY"
	case errors.Is(err, ErrInvalidFileType):
		return http.StatusBadRequest, "INVALID_FILE_TYPE"
	case errors.Is(err, inference.ErrBackend):
		return http.StatusBadGateway, "AI_SERVICE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// handleServiceError logs and renders an error returned by the service
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Internal error", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "Internal server error"
	} else {
		slog.Warn("Request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	writeError(w, status, code, message)
}

// decodeJSON reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON body: %v", ErrValidation, err)
	}
	return nil
}

// uploadMIMEType determines the content type of an uploaded file part
func uploadMIMEType(partType, filename string) string {
	if partType != "" && partType != "application/octet-stream" {
		return partType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// handleCreateScan accepts a photo upload and starts recognition
func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	// Leave room for multipart framing around the file itself
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("File is too large. Maximum size is %dMB.", s.maxUploadBytes>>20))
			return
		}
		slog.Warn("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Expected a multipart form upload")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "No file uploaded")
		return
	}
	defer f.Close()

	if header.Size > s.maxUploadBytes {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			fmt.Sprintf("File is too large. Maximum size is %dMB.", s.maxUploadBytes>>20))
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Error reading file")
		return
	}

	mimeType := uploadMIMEType(header.Header.Get("Content-Type"), header.Filename)
	scan, err := s.service.CreateScan(r.Context(), data, mimeType, r.Header.Get("X-Session-Id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"scanId": scan.ID,
		"status": scan.Status,
	})
}

type scanResponse struct {
	ID                 string                `json:"id"`
	Status             Status                `json:"status"`
	CreatedAt          time.Time             `json:"createdAt"`
	UpdatedAt          time.Time             `json:"updatedAt"`
	Candidates         []inference.Candidate `json:"candidates,omitempty"`
	Evidence           *inference.Evidence   `json:"evidence,omitempty"`
	ConfirmedTitle     string                `json:"confirmedTitle,omitempty"`
	ConfirmedEdition   string                `json:"confirmedEdition,omitempty"`
	ConfirmedLanguage  string                `json:"confirmedLanguage,omitempty"`
	ConfirmedCondition string                `json:"confirmedCondition,omitempty"`
	IsComplete         *bool                 `json:"isComplete,omitempty"`
	NormalizedTitle    string                `json:"normalizedTitle,omitempty"`
	Keywords           []string              `json:"keywords,omitempty"`
	Error              string                `json:"error,omitempty"`
	PriceSamples       []*PriceSample        `json:"priceSamples"`
	ListingDraft       *ListingDraft         `json:"listingDraft,omitempty"`
}

func newScanResponse(d *ScanDetails) scanResponse {
	resp := scanResponse{
		ID:                 d.ID,
		Status:             d.Status,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		Candidates:         d.Candidates,
		Evidence:           d.Evidence,
		ConfirmedTitle:     d.ConfirmedTitle,
		ConfirmedEdition:   d.ConfirmedEdition,
		ConfirmedLanguage:  string(d.ConfirmedLanguage),
		ConfirmedCondition: string(d.ConfirmedCondition),
		NormalizedTitle:    d.NormalizedTitle,
		Keywords:           d.Keywords,
		Error:              d.ErrorMessage,
		PriceSamples:       d.Samples,
		ListingDraft:       d.Draft,
	}
	if d.Confirmed() {
		isComplete := d.IsComplete
		resp.IsComplete = &isComplete
	}
	if resp.PriceSamples == nil {
		resp.PriceSamples = []*PriceSample{}
	}
	return resp
}

// handleGetScan returns a scan's status and results
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	details, err := s.service.GetScan(r.Context(), r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newScanResponse(details))
}

// handleGetScanImage streams the stored photo
func (s *Server) handleGetScanImage(w http.ResponseWriter, r *http.Request) {
	data, mimeType, err := s.service.GetScanImage(r.Context(), r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := w.Write(data); err != nil {
		slog.Error("Error writing image", "error", err)
	}
}

// handleConfirmScan records the user's confirmation
func (s *Server) handleConfirmScan(w http.ResponseWriter, r *http.Request) {
	var in ConfirmInput
	if err := decodeJSON(w, r, &in); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := in.Validate(); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := s.service.ConfirmScan(r.Context(), r.PathValue("id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handlePricing computes a price recommendation
func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	var in PricingInput
	if err := decodeJSON(w, r, &in); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := in.Validate(); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := s.service.CalculatePricing(r.Context(), r.PathValue("id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDraft generates the listing draft
func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	var in DraftInput
	if err := decodeJSON(w, r, &in); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := in.Validate(); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := s.service.GenerateDraft(r.Context(), r.PathValue("id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleHealth reports store connectivity
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, database, code := "ok", "ok", http.StatusOK
	if err := s.service.Ping(r.Context()); err != nil {
		slog.Warn("Health check failed", "error", err)
		status, database, code = "degraded", "error", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": map[string]string{
			"database": database,
		},
		"recognitionQueue": s.service.QueueLen(),
	})
}

// handleReady is the readiness probe
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// handleLive is the liveness probe
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}
