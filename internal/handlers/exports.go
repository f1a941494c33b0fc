package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/gentlechase/api/internal/httpx"
	"github.com/gentlechase/api/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var invoiceExportHeader = []string{
	"id", "invoice_number", "client_name", "client_email", "client_phone", "amount",
	"due_date", "status", "description", "notes", "paid_at", "created_at",
}

func invoiceExportRow(inv store.Invoice) []string {
	paidAt := ""
	if inv.PaidAt != nil {
		paidAt = inv.PaidAt.UTC().Format(time.RFC3339)
	}
	return []string{
		inv.ID.String(),
		inv.InvoiceNumber,
		inv.ClientName,
		inv.ClientEmail,
		inv.ClientPhone,
		inv.Amount.StringFixed(2),
		inv.DueDate.UTC().Format("2006-01-02"),
		inv.Status,
		inv.Description,
		inv.Notes,
		paidAt,
		inv.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) GetExportsInvoicesCsv(w http.ResponseWriter, r *http.Request) {
	s.writeExportCSV(w, r, "invoices", "invoices.csv", func(writer *csv.Writer, userID uuid.UUID) error {
		invoices, err := s.Store.ExportInvoices(r.Context(), userID)
		if err != nil {
			return err
		}
		_ = writer.Write(invoiceExportHeader)
		for _, inv := range invoices {
			_ = writer.Write(invoiceExportRow(inv))
		}
		return nil
	})
}

func (s *Server) GetExportsClientsCsv(w http.ResponseWriter, r *http.Request) {
	s.writeExportCSV(w, r, "clients", "clients.csv", func(writer *csv.Writer, userID uuid.UUID) error {
		clients, err := s.Store.ListClients(r.Context(), userID, store.ClientFilter{})
		if err != nil {
			return err
		}
		_ = writer.Write([]string{"id", "name", "email", "phone", "status", "created_at", "updated_at"})
		for _, c := range clients {
			_ = writer.Write([]string{
				c.ID.String(),
				c.Name,
				c.Email,
				c.Phone,
				c.Status,
				c.CreatedAt.UTC().Format(time.RFC3339),
				c.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
		return nil
	})
}

// GetExportsInvoicesXlsx writes the same columns as the CSV export, with
// amounts as numbers so spreadsheets can sum them.
func (s *Server) GetExportsInvoicesXlsx(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}
	invoices, err := s.Store.ExportInvoices(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to generate export", nil)
		return
	}

	f := excelize.NewFile()
	defer f.Close()
	sw, err := f.NewStreamWriter(f.GetSheetName(0))
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to generate export", nil)
		return
	}

	header := make([]any, len(invoiceExportHeader))
	for i, h := range invoiceExportHeader {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to generate export", nil)
		return
	}
	for i, inv := range invoices {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		cols := invoiceExportRow(inv)
		values := make([]any, len(cols))
		for j, v := range cols {
			values[j] = v
		}
		values[5], _ = inv.Amount.Round(2).Float64()
		if err := sw.SetRow(cell, values); err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to generate export", nil)
			return
		}
	}
	if err := sw.Flush(); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to generate export", nil)
		return
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to generate export", nil)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.xlsx"`)
	_, _ = w.Write(buf.Bytes())

	s.logAudit(r, userID, "export.download", "invoices", nil, map[string]any{
		"filename": "invoices.xlsx",
		"entity":   "invoices",
		"rows":     len(invoices),
	})
}

func (s *Server) writeExportCSV(w http.ResponseWriter, r *http.Request, entityType, filename string, writerFunc func(writer *csv.Writer, userID uuid.UUID) error) {
	_, userID, ok := requireActorIDs(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	writer := csv.NewWriter(w)
	if err := writerFunc(writer, userID); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to generate export CSV", nil)
		return
	}
	writer.Flush()
	if writer.Error() != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to stream export CSV", nil)
		return
	}

	s.logAudit(r, userID, "export.download", entityType, nil, map[string]any{
		"filename": filename,
		"entity":   entityType,
	})
}
