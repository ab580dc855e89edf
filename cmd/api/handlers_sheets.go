package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"finsight/pkg/httpx"
	"finsight/pkg/models"
	"finsight/pkg/stream"

	"github.com/go-chi/chi/v5"
)

func insightsCacheKey(companyID int64) string {
	return fmt.Sprintf("insights:%d", companyID)
}

func isCSVUpload(header *multipart.FileHeader) bool {
	if strings.EqualFold(strings.TrimSpace(header.Header.Get("Content-Type")), "text/csv") {
		return true
	}
	return strings.EqualFold(filepath.Ext(header.Filename), ".csv")
}

func (s *Server) handleSheetUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.MaxUploadBytes); err != nil {
		httpx.Error(w, 400, "invalid multipart form")
		return
	}
	companyID, err := strconv.ParseInt(r.FormValue("company_id"), 10, 64)
	if err != nil {
		httpx.Error(w, 400, "file, company_id and year are required")
		return
	}
	year, err := strconv.Atoi(r.FormValue("year"))
	if err != nil {
		httpx.Error(w, 400, "file, company_id and year are required")
		return
	}
	var quarter *int
	if raw := r.FormValue("quarter"); raw != "" {
		q, err := strconv.Atoi(raw)
		if err != nil || q < 1 || q > 4 {
			httpx.Error(w, 400, "quarter must be between 1 and 4")
			return
		}
		quarter = &q
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Error(w, 400, "file, company_id and year are required")
		return
	}
	defer file.Close()

	if header.Size > s.MaxUploadBytes {
		httpx.Error(w, 413, "file too large")
		return
	}
	if isCSVUpload(header) {
		httpx.Error(w, 400, "csv parsing not implemented")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(file, s.MaxUploadBytes+1))
	if err != nil {
		httpx.Error(w, 400, "invalid file format")
		return
	}
	if int64(len(raw)) > s.MaxUploadBytes {
		httpx.Error(w, 413, "file too large")
		return
	}
	if _, err := models.ParseFinancialData(raw); err != nil {
		httpx.Error(w, 400, "invalid file format")
		return
	}

	if !s.requireOwnership(w, r, companyID) {
		return
	}

	var existingID int64
	err = s.DB.QueryRow(r.Context(),
		`SELECT id FROM balance_sheets WHERE company_id = $1 AND year = $2 AND quarter IS NOT DISTINCT FROM $3`,
		companyID, year, quarter,
	).Scan(&existingID)
	if err == nil {
		httpx.Error(w, 400, "balance sheet for this company, year and quarter already exists")
		return
	}
	if !isNoRows(err) {
		httpx.Error(w, 500, "failed to upload balance sheet")
		return
	}

	var id int64
	err = s.DB.QueryRow(r.Context(),
		`INSERT INTO balance_sheets (company_id, year, quarter, data, uploaded_by)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		companyID, year, quarter, raw, principalID(r),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			httpx.Error(w, 400, "balance sheet for this company, year and quarter already exists")
			return
		}
		httpx.Error(w, 500, "failed to upload balance sheet")
		return
	}

	_ = s.Cache.Del(r.Context(), insightsCacheKey(companyID))
	s.Events.Publish(stream.NewEvent(stream.TypeSheetUploaded, map[string]any{
		"sheet_id":   id,
		"company_id": companyID,
		"year":       year,
		"quarter":    quarter,
	}))
	httpx.WriteJSON(w, 201, map[string]any{
		"message": "balance sheet uploaded successfully",
		"id":      id,
	})
}

func (s *Server) handleSheetsForCompany(w http.ResponseWriter, r *http.Request) {
	companyID, err := strconv.ParseInt(chi.URLParam(r, "companyID"), 10, 64)
	if err != nil {
		httpx.Error(w, 400, "invalid company id")
		return
	}
	if !s.requireOwnership(w, r, companyID) {
		return
	}

	query := `
		SELECT bs.id, bs.year, bs.quarter, bs.data, u.name, bs.created_at
		FROM balance_sheets bs
		LEFT JOIN users u ON bs.uploaded_by = u.id
		WHERE bs.company_id = $1`
	args := []any{companyID}
	if raw := r.URL.Query().Get("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Error(w, 400, "invalid year")
			return
		}
		args = append(args, year)
		query += fmt.Sprintf(" AND bs.year = $%d", len(args))
	}
	if raw := r.URL.Query().Get("quarter"); raw != "" {
		q, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Error(w, 400, "invalid quarter")
			return
		}
		args = append(args, q)
		query += fmt.Sprintf(" AND bs.quarter = $%d", len(args))
	}
	query += " ORDER BY bs.year DESC, bs.quarter DESC NULLS LAST"

	rows, err := s.DB.Query(r.Context(), query, args...)
	if err != nil {
		httpx.Error(w, 500, "failed to get balance sheets")
		return
	}
	defer rows.Close()

	sheets := []models.BalanceSheet{}
	for rows.Next() {
		var sheet models.BalanceSheet
		if err := rows.Scan(&sheet.ID, &sheet.Year, &sheet.Quarter, &sheet.Data, &sheet.UploadedBy, &sheet.CreatedAt); err != nil {
			httpx.Error(w, 500, "failed to get balance sheets")
			return
		}
		sheets = append(sheets, sheet)
	}
	if rows.Err() != nil {
		httpx.Error(w, 500, "failed to get balance sheets")
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"balance_sheets": sheets})
}

func (s *Server) handleGetSheet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Error(w, 400, "invalid balance sheet id")
		return
	}

	var sheet models.BalanceSheet
	err = s.DB.QueryRow(r.Context(),
		`SELECT bs.id, bs.company_id, c.name, bs.year, bs.quarter, bs.data, u.name, bs.created_at
		 FROM balance_sheets bs
		 LEFT JOIN companies c ON bs.company_id = c.id
		 LEFT JOIN users u ON bs.uploaded_by = u.id
		 WHERE bs.id = $1`, id,
	).Scan(&sheet.ID, &sheet.CompanyID, &sheet.CompanyName, &sheet.Year, &sheet.Quarter, &sheet.Data, &sheet.UploadedBy, &sheet.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			httpx.Error(w, 404, "balance sheet not found")
			return
		}
		httpx.Error(w, 500, "failed to get balance sheet")
		return
	}
	if !s.requireOwnership(w, r, sheet.CompanyID) {
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"balance_sheet": sheet})
}

func (s *Server) handleDeleteSheet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Error(w, 400, "invalid balance sheet id")
		return
	}

	var companyID int64
	err = s.DB.QueryRow(r.Context(),
		`SELECT company_id FROM balance_sheets WHERE id = $1`, id,
	).Scan(&companyID)
	if err != nil {
		if isNoRows(err) {
			httpx.Error(w, 404, "balance sheet not found")
			return
		}
		httpx.Error(w, 500, "failed to delete balance sheet")
		return
	}
	if !s.requireOwnership(w, r, companyID) {
		return
	}
	if _, err := s.DB.Exec(r.Context(), `DELETE FROM balance_sheets WHERE id = $1`, id); err != nil {
		httpx.Error(w, 500, "failed to delete balance sheet")
		return
	}

	_ = s.Cache.Del(r.Context(), insightsCacheKey(companyID))
	s.Events.Publish(stream.NewEvent(stream.TypeSheetDeleted, map[string]any{
		"sheet_id":   id,
		"company_id": companyID,
	}))
	httpx.WriteJSON(w, 200, map[string]string{"message": "balance sheet deleted successfully"})
}

func (s *Server) handleSheetStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Error(w, 400, "invalid balance sheet id")
		return
	}

	var (
		raw       json.RawMessage
		companyID int64
	)
	err = s.DB.QueryRow(r.Context(),
		`SELECT data, company_id FROM balance_sheets WHERE id = $1`, id,
	).Scan(&raw, &companyID)
	if err != nil {
		if isNoRows(err) {
			httpx.Error(w, 404, "balance sheet not found")
			return
		}
		httpx.Error(w, 500, "failed to get statistics")
		return
	}
	if !s.requireOwnership(w, r, companyID) {
		return
	}

	data, err := models.ParseFinancialData(raw)
	if err != nil {
		httpx.Error(w, 500, "failed to get statistics")
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"stats": models.ComputeStats(data)})
}
