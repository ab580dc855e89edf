package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"finsight/pkg/ai"
	"finsight/pkg/httpx"
	"finsight/pkg/models"
	"finsight/pkg/stream"

	"github.com/go-chi/chi/v5"
)

type analyzeRequest struct {
	Question       string `json:"question"`
	BalanceSheetID *int64 `json:"balance_sheet_id"`
	CompanyID      *int64 `json:"company_id"`
}

func (s *Server) handleChatAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.Analyzer == nil {
		httpx.Error(w, 503, "analysis unavailable")
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if req.Question == "" {
		httpx.Error(w, 400, "question is required")
		return
	}

	var (
		prompt      string
		companyName string
	)
	switch {
	case req.BalanceSheetID != nil:
		var (
			raw       json.RawMessage
			companyID int64
		)
		err := s.DB.QueryRow(r.Context(),
			`SELECT bs.data, c.name, bs.company_id
			 FROM balance_sheets bs
			 LEFT JOIN companies c ON bs.company_id = c.id
			 WHERE bs.id = $1`, *req.BalanceSheetID,
		).Scan(&raw, &companyName, &companyID)
		if err != nil {
			if isNoRows(err) {
				httpx.Error(w, 404, "balance sheet not found")
				return
			}
			httpx.Error(w, 500, "failed to analyze balance sheet")
			return
		}
		if !s.requireOwnership(w, r, companyID) {
			return
		}
		prompt = ai.SheetPrompt(companyName, raw, req.Question)
	case req.CompanyID != nil:
		if !s.requireOwnership(w, r, *req.CompanyID) {
			return
		}
		periods, name, _, _, err := s.loadCompanyPeriods(r.Context(), *req.CompanyID)
		if err != nil {
			httpx.Error(w, 500, "failed to analyze balance sheet")
			return
		}
		if len(periods) == 0 {
			httpx.Error(w, 404, "no balance sheet data found for this company")
			return
		}
		companyName = name
		prompt = ai.CompanyPrompt(companyName, periods, req.Question)
	default:
		httpx.Error(w, 400, "either balance_sheet_id or company_id is required")
		return
	}

	start := time.Now()
	response, err := s.Analyzer.Analyze(r.Context(), prompt)
	s.Metrics.ObserveAnalyzeLatency(time.Since(start))
	if err != nil {
		httpx.Error(w, 500, "failed to analyze balance sheet")
		return
	}
	answer, suggestions := ai.ParseSuggestedQuestions(response)

	// History keeps the raw model output, sentinel line included; only
	// the HTTP body gets the parsed form.
	if _, err := s.DB.Exec(r.Context(),
		`INSERT INTO chat_history (user_id, question, response, balance_sheet_id, company_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		principalID(r), req.Question, response, req.BalanceSheetID, req.CompanyID,
	); err != nil {
		httpx.Error(w, 500, "failed to analyze balance sheet")
		return
	}

	s.Events.Publish(stream.NewEvent(stream.TypeChatAnalyzed, map[string]any{
		"user_id":      principalID(r),
		"company_name": companyName,
	}))
	httpx.WriteJSON(w, 200, map[string]any{
		"question":            req.Question,
		"response":            answer,
		"suggested_questions": suggestions,
		"company_name":        companyName,
	})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	query := `
		SELECT ch.id, ch.question, ch.response, ch.balance_sheet_id, ch.company_id, c.name, ch.created_at
		FROM chat_history ch
		LEFT JOIN companies c ON ch.company_id = c.id
		WHERE ch.user_id = $1`
	args := []any{principalID(r)}
	if raw := r.URL.Query().Get("company_id"); raw != "" {
		companyID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Error(w, 400, "invalid company id")
			return
		}
		args = append(args, companyID)
		query += fmt.Sprintf(" AND ch.company_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY ch.created_at DESC LIMIT $%d", len(args))

	rows, err := s.DB.Query(r.Context(), query, args...)
	if err != nil {
		httpx.Error(w, 500, "failed to get chat history")
		return
	}
	defer rows.Close()

	records := []models.ChatRecord{}
	for rows.Next() {
		var (
			rec  models.ChatRecord
			name *string
		)
		if err := rows.Scan(&rec.ID, &rec.Question, &rec.Response, &rec.BalanceSheetID, &rec.CompanyID, &name, &rec.CreatedAt); err != nil {
			httpx.Error(w, 500, "failed to get chat history")
			return
		}
		if name != nil {
			rec.CompanyName = *name
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		httpx.Error(w, 500, "failed to get chat history")
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"chat_history": records})
}

func (s *Server) handleCompanyInsights(w http.ResponseWriter, r *http.Request) {
	companyID, err := strconv.ParseInt(chi.URLParam(r, "companyID"), 10, 64)
	if err != nil {
		httpx.Error(w, 400, "invalid company id")
		return
	}
	if !s.requireOwnership(w, r, companyID) {
		return
	}
	if cached, err := s.Cache.Get(r.Context(), insightsCacheKey(companyID)); err == nil {
		httpx.WriteJSON(w, 200, json.RawMessage(cached))
		return
	}
	if s.Analyzer == nil {
		httpx.Error(w, 503, "analysis unavailable")
		return
	}

	periods, companyName, latest, total, err := s.loadCompanyPeriods(r.Context(), companyID)
	if err != nil {
		httpx.Error(w, 500, "failed to get insights")
		return
	}
	if len(periods) == 0 {
		httpx.Error(w, 404, "no balance sheet data found for this company")
		return
	}

	start := time.Now()
	insights, err := s.Analyzer.Analyze(r.Context(), ai.InsightsPrompt(companyName, periods))
	s.Metrics.ObserveAnalyzeLatency(time.Since(start))
	if err != nil {
		httpx.Error(w, 500, "failed to get insights")
		return
	}

	years := make([]int, 0, len(periods))
	for year := range periods {
		years = append(years, year)
	}
	for i := 0; i < len(years); i++ {
		for j := i + 1; j < len(years); j++ {
			if years[j] > years[i] {
				years[i], years[j] = years[j], years[i]
			}
		}
	}

	latestData, err := models.ParseFinancialData(latest.Data)
	if err != nil {
		httpx.Error(w, 500, "failed to get insights")
		return
	}
	latestPeriod := fmt.Sprintf("%d annual", latest.Year)
	if latest.Quarter != nil {
		latestPeriod = fmt.Sprintf("%d Q%d", latest.Year, *latest.Quarter)
	}

	payload := map[string]any{
		"company_name": companyName,
		"insights":     insights,
		"data_summary": map[string]any{
			"total_assets":      latestData[models.KeyTotalAssets],
			"total_liabilities": latestData[models.KeyTotalLiabilities],
			"total_equity":      latestData[models.KeyTotalEquity],
			"available_years":   years,
			"total_periods":     total,
			"latest_period":     latestPeriod,
		},
	}
	if encoded, err := json.Marshal(payload); err == nil {
		_ = s.Cache.Set(r.Context(), insightsCacheKey(companyID), string(encoded), s.InsightsCacheTTL)
	}
	httpx.WriteJSON(w, 200, payload)
}

// loadCompanyPeriods collects every sheet for the company keyed by year
// and quarter label. The newest period (highest year, then highest
// quarter, annual last) is returned separately for the summary block.
func (s *Server) loadCompanyPeriods(ctx context.Context, companyID int64) (map[int]map[string]json.RawMessage, string, models.BalanceSheet, int, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT bs.data, bs.year, bs.quarter, c.name
		 FROM balance_sheets bs
		 LEFT JOIN companies c ON bs.company_id = c.id
		 WHERE bs.company_id = $1
		 ORDER BY bs.year DESC, bs.quarter DESC NULLS LAST`, companyID)
	if err != nil {
		return nil, "", models.BalanceSheet{}, 0, err
	}
	defer rows.Close()

	periods := map[int]map[string]json.RawMessage{}
	var (
		companyName string
		latest      models.BalanceSheet
		total       int
	)
	for rows.Next() {
		var (
			sheet models.BalanceSheet
			name  *string
		)
		if err := rows.Scan(&sheet.Data, &sheet.Year, &sheet.Quarter, &name); err != nil {
			return nil, "", models.BalanceSheet{}, 0, err
		}
		if name != nil {
			companyName = *name
		}
		label := "annual"
		if sheet.Quarter != nil {
			label = strconv.Itoa(*sheet.Quarter)
		}
		if periods[sheet.Year] == nil {
			periods[sheet.Year] = map[string]json.RawMessage{}
		}
		periods[sheet.Year][label] = sheet.Data
		if total == 0 {
			latest = sheet
		}
		total++
	}
	if err := rows.Err(); err != nil {
		return nil, "", models.BalanceSheet{}, 0, err
	}
	return periods, companyName, latest, total, nil
}
