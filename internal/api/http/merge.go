package http

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/crimestats/crimestats/internal/codec"
	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/internal/merge"
	"github.com/crimestats/crimestats/internal/sink"
	"github.com/crimestats/crimestats/internal/source"
)

// DefaultMaxUploadBytes bounds the total size of a merge upload.
const DefaultMaxUploadBytes int64 = 64 << 20

// SourceFailure describes one uploaded file that was skipped.
type SourceFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// MergeResponse represents the merge response.
type MergeResponse struct {
	Stats        merge.Stats     `json:"stats"`
	Fingerprint  string          `json:"fingerprint"`
	SourceErrors []SourceFailure `json:"source_errors,omitempty"`
	RequestID    string          `json:"request_id"`
}

// MergeHandler handles POST /v1/merge requests. Each multipart "files" part
// is one extract; the merged table is returned as JSON statistics, or as CSV
// when format=csv.
type MergeHandler struct {
	opts     merge.Options
	maxBytes int64
}

// NewMergeHandler creates a new merge handler.
func NewMergeHandler(opts merge.Options, maxBytes int64) *MergeHandler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &MergeHandler{opts: opts, maxBytes: maxBytes}
}

// ServeHTTP handles the merge HTTP request.
func (h *MergeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err), requestID)
		return
	}

	var sources []source.Source
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, uploadStatus(err), fmt.Sprintf("failed to read upload: %v", err), requestID)
			return
		}
		if part.FormName() != "files" {
			part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			writeError(w, uploadStatus(err), fmt.Sprintf("failed to read upload: %v", err), requestID)
			return
		}
		name := part.FileName()
		if name == "" {
			name = fmt.Sprintf("upload-%d.csv", len(sources)+1)
		}
		sources = append(sources, source.NewReaderSource(name, data))
	}

	opts := h.opts
	opts.Logger = opts.Logger.With().Str("request_id", requestID).Logger()
	result, err := merge.New(opts).Merge(r.Context(), sources)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", csvContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="merged.csv"`)
		w.WriteHeader(http.StatusOK)
		if err := sink.WriteCSV(w, codec.None, result.Table, opts.DateFormat); err != nil {
			opts.Logger.Error().Err(errors.Wrap(errors.ErrCategoryStorage, errors.CodeWriteFailed,
				"failed to stream merged table", err)).Msg("merge response truncated")
		}
		return
	}

	resp := MergeResponse{
		Stats:       result.Stats,
		Fingerprint: result.Table.Fingerprint(),
		RequestID:   requestID,
	}
	for _, se := range result.SourceErrors {
		resp.SourceErrors = append(resp.SourceErrors, SourceFailure{Source: se.Source, Error: se.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// uploadStatus maps a body read error to 413 when the upload limit was hit
// and 400 otherwise.
func uploadStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
