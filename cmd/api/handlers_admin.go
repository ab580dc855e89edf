package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"finsight/pkg/accesscontrol"
	"finsight/pkg/auth"
	"finsight/pkg/httpx"
	"finsight/pkg/models"
	"finsight/pkg/stream"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
)

func (s *Server) scanCompanies(rows pgx.Rows) ([]models.Company, error) {
	defer rows.Close()
	companies := []models.Company{}
	for rows.Next() {
		var (
			c        models.Company
			industry *string
		)
		if err := rows.Scan(&c.ID, &c.Name, &industry, &c.CreatedAt); err != nil {
			return nil, err
		}
		if industry != nil {
			c.Industry = *industry
		}
		companies = append(companies, c)
	}
	return companies, rows.Err()
}

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	rows, err := s.DB.Query(r.Context(),
		`SELECT id, name, industry, created_at FROM companies ORDER BY name`)
	if err != nil {
		httpx.Error(w, 500, "failed to get companies")
		return
	}
	companies, err := s.scanCompanies(rows)
	if err != nil {
		httpx.Error(w, 500, "failed to get companies")
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"companies": companies})
}

type createCompanyRequest struct {
	Name     string `json:"name"`
	Industry string `json:"industry"`
}

func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var req createCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if req.Name == "" {
		httpx.Error(w, 400, "company name is required")
		return
	}

	var existingID int64
	err := s.DB.QueryRow(r.Context(), `SELECT id FROM companies WHERE name = $1`, req.Name).Scan(&existingID)
	if err == nil {
		httpx.Error(w, 400, "company already exists")
		return
	}
	if !isNoRows(err) {
		httpx.Error(w, 500, "failed to create company")
		return
	}

	var company models.Company
	err = s.DB.QueryRow(r.Context(),
		`INSERT INTO companies (name, industry) VALUES ($1, $2) RETURNING id, name, industry, created_at`,
		req.Name, req.Industry,
	).Scan(&company.ID, &company.Name, &company.Industry, &company.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			httpx.Error(w, 400, "company already exists")
			return
		}
		httpx.Error(w, 500, "failed to create company")
		return
	}
	httpx.WriteJSON(w, 201, map[string]any{
		"message": "company created successfully",
		"company": company,
	})
}

func (s *Server) handleCompanyUsers(w http.ResponseWriter, r *http.Request) {
	companyID, err := strconv.ParseInt(chi.URLParam(r, "companyID"), 10, 64)
	if err != nil {
		httpx.Error(w, 400, "invalid company id")
		return
	}
	rows, err := s.DB.Query(r.Context(),
		`SELECT id, name, email, role, created_at FROM users WHERE company_id = $1 ORDER BY name`,
		companyID)
	if err != nil {
		httpx.Error(w, 500, "failed to get users")
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt); err != nil {
			httpx.Error(w, 500, "failed to get users")
			return
		}
		users = append(users, u)
	}
	if rows.Err() != nil {
		httpx.Error(w, 500, "failed to get users")
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"users": users})
}

func (s *Server) handleMyCompanies(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var rows pgx.Rows
	var err error
	if principal.Role == accesscontrol.RoleTopManagement {
		rows, err = s.DB.Query(r.Context(),
			`SELECT id, name, industry, created_at FROM companies ORDER BY name`)
	} else {
		if principal.CompanyID == nil {
			httpx.WriteJSON(w, 200, map[string]any{"companies": []models.Company{}})
			return
		}
		rows, err = s.DB.Query(r.Context(),
			`SELECT id, name, industry, created_at FROM companies WHERE id = $1`, *principal.CompanyID)
	}
	if err != nil {
		httpx.Error(w, 500, "failed to get companies")
		return
	}
	companies, err := s.scanCompanies(rows)
	if err != nil {
		httpx.Error(w, 500, "failed to get companies")
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"companies": companies})
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleUpdateUserRole(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.Error(w, 400, "invalid user id")
		return
	}
	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if !accesscontrol.ValidRole(req.Role) {
		httpx.Error(w, 400, "valid role is required")
		return
	}

	var user models.User
	err = s.DB.QueryRow(r.Context(),
		`UPDATE users SET role = $1 WHERE id = $2 RETURNING id, name, email, role`,
		req.Role, userID,
	).Scan(&user.ID, &user.Name, &user.Email, &user.Role)
	if err != nil {
		if isNoRows(err) {
			httpx.Error(w, 404, "user not found")
			return
		}
		httpx.Error(w, 500, "failed to update user role")
		return
	}

	s.Events.Publish(stream.NewEvent(stream.TypeRoleChanged, map[string]any{
		"user_id": user.ID,
		"role":    user.Role,
	}))
	httpx.WriteJSON(w, 200, map[string]any{
		"message": "user role updated successfully",
		"user":    user,
	})
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	count := func(ctx context.Context, query string, args ...any) (int64, error) {
		var n int64
		err := s.DB.QueryRow(ctx, query, args...).Scan(&n)
		return n, err
	}

	var (
		sheets, chats int64
		err           error
	)
	if principal.Role == accesscontrol.RoleTopManagement {
		sheets, err = count(r.Context(), `SELECT COUNT(*) FROM balance_sheets`)
		if err == nil {
			chats, err = count(r.Context(), `SELECT COUNT(*) FROM chat_history`)
		}
	} else {
		if principal.CompanyID != nil {
			sheets, err = count(r.Context(),
				`SELECT COUNT(*) FROM balance_sheets WHERE company_id = $1`, *principal.CompanyID)
		}
		if err == nil {
			chats, err = count(r.Context(),
				`SELECT COUNT(*) FROM chat_history WHERE user_id = $1`, principal.ID)
		}
	}
	if err != nil {
		httpx.Error(w, 500, "failed to get statistics")
		return
	}
	httpx.WriteJSON(w, 200, map[string]int64{
		"balance_sheets_count": sheets,
		"chat_history_count":   chats,
	})
}
