package models

import (
	"encoding/json"
	"time"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CompanyID *int64    `json:"company_id"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Company struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Industry  string    `json:"industry,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// BalanceSheet is immutable once created; the only mutation is deletion.
// Data is the verbatim uploaded JSON object.
type BalanceSheet struct {
	ID          int64           `json:"id"`
	CompanyID   int64           `json:"company_id,omitempty"`
	CompanyName string          `json:"company_name,omitempty"`
	Year        int             `json:"year"`
	Quarter     *int            `json:"quarter"`
	Data        json.RawMessage `json:"data"`
	UploadedBy  string          `json:"uploaded_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at,omitempty"`
}

// ChatRecord is one appended question/answer pair. Rows are never
// mutated or deleted.
type ChatRecord struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"-"`
	Question       string    `json:"question"`
	Response       string    `json:"response"`
	BalanceSheetID *int64    `json:"balance_sheet_id,omitempty"`
	CompanyID      *int64    `json:"company_id,omitempty"`
	CompanyName    string    `json:"company_name,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}
