package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/gentlechase/api/internal/httpx"
	"github.com/gentlechase/api/internal/importer"
)

const multipartMemory = 32 << 20

var importTemplateHeader = []string{
	"Invoice Number", "Client Name", "Client Email", "Client Phone",
	"Amount", "Due Date", "Status", "Description", "Notes",
}

var importTemplateSample = []string{
	"INV-1001", "Acme Corp", "billing@acme.test", "555-0100",
	"1200.00", "2025-01-31", "pending", "Website redesign", "Net 30",
}

type importBatchResponse struct {
	ID         string           `json:"id"`
	Filename   string           `json:"filename"`
	CreatedAt  time.Time        `json:"createdAt"`
	Columns    []importer.Field `json:"mappedColumns"`
	Rows       []importer.Row   `json:"rows"`
	Summary    importer.Summary `json:"summary"`
	CanImport  bool             `json:"canImport"`
	Committing bool             `json:"committing"`
}

type importRowResponse struct {
	Row       importer.Row     `json:"row"`
	Summary   importer.Summary `json:"summary"`
	CanImport bool             `json:"canImport"`
}

type importRowEditRequest struct {
	Field string `json:"field" validate:"required"`
	Value string `json:"value" validate:"max=2000"`
}

type importCommitResponse struct {
	ImportRunID      *uuid.UUID `json:"importRunId,omitempty"`
	Imported         int        `json:"imported"`
	Skipped          int        `json:"skipped"`
	SkippedDuplicate int        `json:"skippedDuplicate"`
	SkippedRejected  int        `json:"skippedRejected"`
	NewClients       int        `json:"newClients"`
}

type appError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func mapBatch(b *importer.Batch) importBatchResponse {
	summary := b.Summary()
	return importBatchResponse{
		ID:         b.ID,
		Filename:   b.Filename,
		CreatedAt:  b.CreatedAt.UTC(),
		Columns:    b.Columns,
		Rows:       b.Rows(),
		Summary:    summary,
		CanImport:  summary.HardErrors == 0 && summary.Total > 0,
		Committing: b.Committing(),
	}
}

// parseImportUpload pulls the "file" part out of a multipart request.
func parseImportUpload(r *http.Request) (multipart.File, string, *appError) {
	if !strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
		return nil, "", &appError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_content_type",
			Message: "Content-Type must be multipart/form-data",
		}
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", &appError{
				Status:  http.StatusRequestEntityTooLarge,
				Code:    "file_too_large",
				Message: importer.ParseErrorMessage(importer.ErrFileTooLarge),
			}
		}
		return nil, "", &appError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_multipart",
			Message: "Failed to parse multipart form",
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", &appError{
			Status:  http.StatusBadRequest,
			Code:    "missing_file",
			Message: "file is required",
		}
	}
	return file, header.Filename, nil
}

func parseFileError(err error) *appError {
	msg := importer.ParseErrorMessage(err)
	switch {
	case errors.Is(err, importer.ErrUnsupportedFile):
		return &appError{Status: http.StatusUnsupportedMediaType, Code: "unsupported_file", Message: msg}
	case errors.Is(err, importer.ErrFileTooLarge):
		return &appError{Status: http.StatusRequestEntityTooLarge, Code: "file_too_large", Message: msg}
	case errors.Is(err, importer.ErrTooManyRows):
		return &appError{Status: http.StatusRequestEntityTooLarge, Code: "too_many_rows", Message: msg}
	case errors.Is(err, importer.ErrNoData):
		return &appError{Status: http.StatusUnprocessableEntity, Code: "no_data", Message: msg}
	default:
		return &appError{Status: http.StatusUnprocessableEntity, Code: "unreadable_file", Message: msg}
	}
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, e *appError) {
	httpx.WriteError(w, r, e.Status, e.Code, e.Message, e.Details)
}

// writeImportError maps batch and session errors to responses.
func (s *Server) writeImportError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, importer.ErrSessionNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "import_not_found", "Import session was not found or has expired", nil)
	case errors.Is(err, importer.ErrRowNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "row_not_found", "Row was not found", nil)
	case errors.Is(err, importer.ErrUnknownField):
		httpx.WriteError(w, r, http.StatusBadRequest, "unknown_field", "Field is not editable", nil)
	case errors.Is(err, importer.ErrCommitInProgress), errors.Is(err, importer.ErrBatchLocked):
		httpx.WriteError(w, r, http.StatusConflict, "import_in_progress", "Import is already running", nil)
	case errors.Is(err, importer.ErrBatchCommitted):
		httpx.WriteError(w, r, http.StatusConflict, "import_committed", "Import was already committed", nil)
	default:
		s.Logger.Error("import_failed", "error", err, "request_id", requestID(r))
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Import request failed", nil)
	}
}

// retireBatch stores the committed state before dropping the session. Stores
// that hand out copies would otherwise keep an importable batch whenever the
// delete fails.
func (s *Server) retireBatch(ctx context.Context, userID uuid.UUID, batch *importer.Batch) {
	putErr := s.Sessions.Put(ctx, userID, batch)
	err := s.Sessions.Delete(ctx, userID, batch.ID)
	switch {
	case err == nil:
	case putErr != nil:
		s.Logger.Error("import_session_retire_failed", "import_id", batch.ID, "put_error", putErr, "error", err)
	default:
		s.Logger.Warn("import_session_cleanup_failed", "import_id", batch.ID, "error", err)
	}
}

func (s *Server) PostImports(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}

	file, filename, appErr := parseImportUpload(r)
	if appErr != nil {
		s.writeAppError(w, r, appErr)
		return
	}
	defer file.Close()

	grid, err := importer.ParseFile(filename, file, importer.ParseOptions{
		MaxBytes: s.Config.ImportMaxFileBytes,
		MaxRows:  s.Config.ImportMaxRows,
	})
	if err != nil {
		s.writeAppError(w, r, parseFileError(err))
		return
	}

	existing, err := s.Store.FetchInvoiceNumbers(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load existing invoices", nil)
		return
	}
	batch := importer.NewBatch(filename, grid, existing, importer.BatchOptions{Synonyms: s.Synonyms})
	if err := s.Sessions.Put(r.Context(), userID, batch); err != nil {
		s.writeImportError(w, r, err)
		return
	}

	summary := batch.Summary()
	s.Logger.Info("import_staged",
		"import_id", batch.ID,
		"rows", summary.Total,
		"hard_errors", summary.HardErrors,
		"duplicates", summary.Duplicates,
		"request_id", requestID(r),
	)
	httpx.WriteJSON(w, http.StatusCreated, mapBatch(batch))
}

func (s *Server) GetImport(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	batch, err := s.Sessions.Get(r.Context(), userID, chi.URLParam(r, "importId"))
	if err != nil {
		s.writeImportError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapBatch(batch))
}

// mutateBatch loads the batch under its lock, applies fn and stores the
// result.
func (s *Server) mutateBatch(r *http.Request, userID uuid.UUID, importID string, fn func(*importer.Batch) error) (*importer.Batch, error) {
	unlock, err := s.Sessions.Lock(r.Context(), userID, importID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	batch, err := s.Sessions.Get(r.Context(), userID, importID)
	if err != nil {
		return nil, err
	}
	if err := fn(batch); err != nil {
		return nil, err
	}
	if err := s.Sessions.Put(r.Context(), userID, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *Server) PatchImportRow(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	var req importRowEditRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	field, known := importer.ParseField(req.Field)
	if !known {
		s.writeImportError(w, r, importer.ErrUnknownField)
		return
	}

	rowID := chi.URLParam(r, "rowId")
	var row importer.Row
	batch, err := s.mutateBatch(r, userID, chi.URLParam(r, "importId"), func(b *importer.Batch) error {
		var err error
		row, err = b.Edit(rowID, field, req.Value)
		return err
	})
	if err != nil {
		s.writeImportError(w, r, err)
		return
	}

	summary := batch.Summary()
	httpx.WriteJSON(w, http.StatusOK, importRowResponse{
		Row:       row,
		Summary:   summary,
		CanImport: summary.HardErrors == 0 && summary.Total > 0,
	})
}

func (s *Server) DeleteImportRow(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	rowID := chi.URLParam(r, "rowId")
	batch, err := s.mutateBatch(r, userID, chi.URLParam(r, "importId"), func(b *importer.Batch) error {
		return b.Remove(rowID)
	})
	if err != nil {
		s.writeImportError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapBatch(batch))
}

func (s *Server) PostImportCommit(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	importID := chi.URLParam(r, "importId")

	unlock, err := s.Sessions.Lock(r.Context(), userID, importID)
	if err != nil {
		s.writeImportError(w, r, err)
		return
	}
	defer unlock()

	batch, err := s.Sessions.Get(r.Context(), userID, importID)
	if err != nil {
		s.writeImportError(w, r, err)
		return
	}
	rowsTotal := batch.Summary().Total

	start := time.Now()
	res, err := batch.Commit(r.Context(), s.Store, userID)
	if err != nil {
		var partial *importer.PartialCommitError
		switch {
		case errors.Is(err, importer.ErrNotImportable):
			httpx.WriteError(w, r, http.StatusConflict, "not_importable", "Fix or remove rows with errors before importing", batch.Summary())
		case errors.As(err, &partial):
			s.Logger.Error("import_commit_partial", "import_id", importID, "clients_created", partial.ClientsCreated, "error", err)
			httpx.WriteError(w, r, http.StatusInternalServerError, "import_partial", "Import failed after creating clients",
				map[string]int{"clientsCreated": partial.ClientsCreated})
		default:
			s.writeImportError(w, r, err)
		}
		return
	}

	s.retireBatch(context.WithoutCancel(r.Context()), userID, batch)

	resp := importCommitResponse{
		Imported:         res.Imported,
		Skipped:          res.Skipped(),
		SkippedDuplicate: res.SkippedDuplicate,
		SkippedRejected:  res.SkippedRejected,
		NewClients:       res.NewClients,
	}
	run, err := s.Store.RecordImportRun(r.Context(), userID, batch.Filename, rowsTotal, res)
	if err != nil {
		s.Logger.Warn("import_run_record_failed", "import_id", importID, "error", err)
	} else {
		resp.ImportRunID = ptr(run.ID)
	}

	s.logAudit(r, userID, "import.commit", "import", resp.ImportRunID, map[string]any{
		"filename":         batch.Filename,
		"imported":         res.Imported,
		"skippedDuplicate": res.SkippedDuplicate,
		"skippedRejected":  res.SkippedRejected,
		"newClients":       res.NewClients,
	})
	s.Logger.Info("import_committed",
		"import_id", importID,
		"imported", res.Imported,
		"skipped", res.Skipped(),
		"new_clients", res.NewClients,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID(r),
	)

	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) DeleteImport(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	importID := chi.URLParam(r, "importId")

	unlock, err := s.Sessions.Lock(r.Context(), userID, importID)
	if err != nil {
		s.writeImportError(w, r, err)
		return
	}
	defer unlock()

	if _, err := s.Sessions.Get(r.Context(), userID, importID); err != nil {
		s.writeImportError(w, r, err)
		return
	}
	if err := s.Sessions.Delete(r.Context(), userID, importID); err != nil {
		s.writeImportError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetImportTemplateCsv(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	_ = writer.Write(importTemplateHeader)
	_ = writer.Write(importTemplateSample)
	writer.Flush()
	if err := writer.Error(); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to build template", nil)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="invoice-import-template.csv"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) GetImportTemplateXlsx(w http.ResponseWriter, r *http.Request) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range [][]string{importTemplateHeader, importTemplateSample} {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to build template", nil)
			return
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to build template", nil)
			return
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to build template", nil)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "invoice-import-template.xlsx"))
	_, _ = w.Write(buf.Bytes())
}

type importRunResponse struct {
	ID               uuid.UUID `json:"id"`
	Filename         string    `json:"filename"`
	RowsTotal        int       `json:"rowsTotal"`
	Imported         int       `json:"imported"`
	SkippedDuplicate int       `json:"skippedDuplicate"`
	SkippedRejected  int       `json:"skippedRejected"`
	NewClients       int       `json:"newClients"`
	CreatedAt        time.Time `json:"createdAt"`
}

const importRunListLimit = 20

func (s *Server) GetImportRuns(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	runs, err := s.Store.ListImportRuns(r.Context(), userID, importRunListLimit)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load import history", nil)
		return
	}

	items := make([]importRunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, importRunResponse{
			ID:               run.ID,
			Filename:         run.Filename,
			RowsTotal:        run.RowsTotal,
			Imported:         run.Result.Imported,
			SkippedDuplicate: run.Result.SkippedDuplicate,
			SkippedRejected:  run.Result.SkippedRejected,
			NewClients:       run.Result.NewClients,
			CreatedAt:        run.CreatedAt.UTC(),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}
