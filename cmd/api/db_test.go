package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finsight/pkg/ai"
	"finsight/pkg/audit"
	"finsight/pkg/auth"
	"finsight/pkg/metrics"
	"finsight/pkg/store"
	"finsight/pkg/stream"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeAPIDB struct {
	execFn     func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	execSQL    []string
	execArgs   [][]any
}

func (f *fakeAPIDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, arguments)
	if f.execFn != nil {
		return f.execFn(ctx, sql, arguments...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeAPIDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if f.queryFn != nil {
		return f.queryFn(ctx, sql, args...)
	}
	return &fakeAPIRows{}, nil
}

func (f *fakeAPIDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if f.queryRowFn != nil {
		return f.queryRowFn(ctx, sql, args...)
	}
	return fakeAPIRow{err: pgx.ErrNoRows}
}

type fakeAPIRow struct {
	values []any
	err    error
}

func (r fakeAPIRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("scan arity mismatch")
	}
	for i := range dest {
		if err := assignAPIScan(dest[i], r.values[i]); err != nil {
			return err
		}
	}
	return nil
}

type fakeAPIRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeAPIRows) Close()                                       {}
func (r *fakeAPIRows) Err() error                                   { return r.err }
func (r *fakeAPIRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT 1") }
func (r *fakeAPIRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeAPIRows) RawValues() [][]byte                          { return nil }
func (r *fakeAPIRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeAPIRows) Next() bool {
	if r.err != nil || r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeAPIRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.rows) {
		return errors.New("no current row")
	}
	current := r.rows[r.idx-1]
	if len(dest) != len(current) {
		return errors.New("scan arity mismatch")
	}
	for i := range dest {
		if err := assignAPIScan(dest[i], current[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeAPIRows) Values() ([]any, error) {
	if r.idx == 0 || r.idx > len(r.rows) {
		return nil, errors.New("no current row")
	}
	return append([]any(nil), r.rows[r.idx-1]...), nil
}

func assignAPIScan(dest any, value any) error {
	switch d := dest.(type) {
	case *string:
		v, ok := value.(string)
		if !ok {
			return errors.New("value is not string")
		}
		*d = v
	case **string:
		if value == nil {
			*d = nil
			return nil
		}
		v, ok := value.(string)
		if !ok {
			return errors.New("value is not *string")
		}
		tmp := v
		*d = &tmp
	case *[]byte:
		v, ok := value.([]byte)
		if !ok {
			return errors.New("value is not []byte")
		}
		*d = append((*d)[:0], v...)
	case *json.RawMessage:
		v, ok := value.([]byte)
		if !ok {
			return errors.New("value is not json raw")
		}
		*d = append((*d)[:0], v...)
	case *int:
		switch v := value.(type) {
		case int:
			*d = v
		case int64:
			*d = int(v)
		default:
			return errors.New("value is not int")
		}
	case **int:
		if value == nil {
			*d = nil
			return nil
		}
		switch v := value.(type) {
		case int:
			tmp := v
			*d = &tmp
		case int64:
			tmp := int(v)
			*d = &tmp
		default:
			return errors.New("value is not *int")
		}
	case *int64:
		switch v := value.(type) {
		case int:
			*d = int64(v)
		case int64:
			*d = v
		default:
			return errors.New("value is not int64")
		}
	case **int64:
		if value == nil {
			*d = nil
			return nil
		}
		switch v := value.(type) {
		case int:
			tmp := int64(v)
			*d = &tmp
		case int64:
			tmp := v
			*d = &tmp
		default:
			return errors.New("value is not *int64")
		}
	case *float64:
		switch v := value.(type) {
		case float64:
			*d = v
		case int:
			*d = float64(v)
		case int64:
			*d = float64(v)
		default:
			return errors.New("value is not float64")
		}
	case *time.Time:
		v, ok := value.(time.Time)
		if !ok {
			return errors.New("value is not time.Time")
		}
		*d = v
	default:
		return errors.New("unsupported scan destination")
	}
	return nil
}

type fakeAPIAudit struct {
	records []audit.Record
	err     error
}

func (f *fakeAPIAudit) Append(ctx context.Context, rec audit.Record) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeAPIAudit) Recent(ctx context.Context, limit int) ([]audit.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeAnalyzer struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

var _ ai.Analyzer = (*fakeAnalyzer)(nil)

const testJWTSecret = "test-secret"

func newTestServer(db *fakeAPIDB) *Server {
	return &Server{
		DB:               db,
		Cache:            store.NewMemoryCache(),
		Metrics:          metrics.NewRegistry(),
		Audit:            &fakeAPIAudit{},
		Events:           stream.NewHub(),
		JWTSecret:        testJWTSecret,
		MaxUploadBytes:   10 << 20,
		InsightsCacheTTL: time.Minute,
	}
}

func analystPrincipal(companyID int64) auth.Principal {
	return auth.Principal{ID: 7, Email: "a@acme.test", Name: "Ann", Role: "analyst", CompanyID: &companyID}
}

func topPrincipal() auth.Principal {
	return auth.Principal{ID: 1, Email: "t@hq.test", Name: "Tess", Role: "top_management"}
}

func authedRequest(t *testing.T, p auth.Principal, method, target string, body []byte) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(auth.WithPrincipal(req.Context(), p))
}

func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}
