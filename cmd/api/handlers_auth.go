package main

import (
	"encoding/json"
	"net/http"
	"time"

	"finsight/pkg/accesscontrol"
	"finsight/pkg/auth"
	"finsight/pkg/httpx"
	"finsight/pkg/models"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 10

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CompanyID *int64 `json:"company_id"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" || req.Name == "" || req.Role == "" {
		httpx.Error(w, 400, "email, password, name and role are required")
		return
	}
	if !accesscontrol.ValidRole(req.Role) {
		httpx.Error(w, 400, "valid role is required")
		return
	}

	var existingID int64
	err := s.DB.QueryRow(r.Context(), `SELECT id FROM users WHERE email = $1`, req.Email).Scan(&existingID)
	if err == nil {
		httpx.Error(w, 400, "user already exists")
		return
	}
	if !isNoRows(err) {
		httpx.Error(w, 500, "registration failed")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		httpx.Error(w, 500, "registration failed")
		return
	}

	var user models.User
	err = s.DB.QueryRow(r.Context(),
		`INSERT INTO users (email, password_hash, name, role, company_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, email, name, role, company_id`,
		req.Email, string(hash), req.Name, req.Role, req.CompanyID,
	).Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.CompanyID)
	if err != nil {
		if isUniqueViolation(err) {
			httpx.Error(w, 400, "user already exists")
			return
		}
		httpx.Error(w, 500, "registration failed")
		return
	}

	token, err := auth.Issue(user.ID, s.JWTSecret, time.Now())
	if err != nil {
		httpx.Error(w, 500, "registration failed")
		return
	}
	httpx.WriteJSON(w, 201, map[string]any{
		"message": "user registered successfully",
		"user":    user,
		"token":   token,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.Error(w, 400, "email and password are required")
		return
	}

	var (
		user models.User
		hash string
	)
	err := s.DB.QueryRow(r.Context(),
		`SELECT id, email, password_hash, name, role, company_id FROM users WHERE email = $1`,
		req.Email,
	).Scan(&user.ID, &user.Email, &hash, &user.Name, &user.Role, &user.CompanyID)
	if err != nil {
		if isNoRows(err) {
			// Same body as a wrong password so the response does not
			// reveal which accounts exist.
			httpx.Error(w, 401, "invalid credentials")
			return
		}
		httpx.Error(w, 500, "login failed")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		httpx.Error(w, 401, "invalid credentials")
		return
	}

	token, err := auth.Issue(user.ID, s.JWTSecret, time.Now())
	if err != nil {
		httpx.Error(w, 500, "login failed")
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"message": "login successful",
		"user":    user,
		"token":   token,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var user models.User
	err := s.DB.QueryRow(r.Context(),
		`SELECT id, email, name, role, company_id, created_at FROM users WHERE id = $1`,
		principal.ID,
	).Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.CompanyID, &user.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			httpx.Error(w, 404, "user not found")
			return
		}
		httpx.Error(w, 500, "failed to get profile")
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"user": user})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		httpx.Error(w, 400, "current and new password are required")
		return
	}

	var hash string
	err := s.DB.QueryRow(r.Context(),
		`SELECT password_hash FROM users WHERE id = $1`, principal.ID,
	).Scan(&hash)
	if err != nil {
		if isNoRows(err) {
			httpx.Error(w, 404, "user not found")
			return
		}
		httpx.Error(w, 500, "failed to change password")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.CurrentPassword)) != nil {
		httpx.Error(w, 401, "current password is incorrect")
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcryptCost)
	if err != nil {
		httpx.Error(w, 500, "failed to change password")
		return
	}
	if _, err := s.DB.Exec(r.Context(),
		`UPDATE users SET password_hash = $1 WHERE id = $2`, string(newHash), principal.ID,
	); err != nil {
		httpx.Error(w, 500, "failed to change password")
		return
	}
	httpx.WriteJSON(w, 200, map[string]string{"message": "password changed successfully"})
}
