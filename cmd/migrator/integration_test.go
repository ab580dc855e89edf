//go:build integration

package main

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Run with: go test -tags=integration -timeout 120s ./cmd/migrator/...
func TestMigrationsAgainstRealPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("finsight"),
		postgres.WithUsername("finsight"),
		postgres.WithPassword("finsight"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool, "../../migrations", nil, nil, func(string, ...any) {}); err != nil {
		t.Fatalf("runMigrations failed: %v", err)
	}

	// Fixtures for the uniqueness checks below.
	var companyID, userID int64
	if err := pool.QueryRow(ctx, `INSERT INTO companies (name) VALUES ('Acme Corp') RETURNING id`).Scan(&companyID); err != nil {
		t.Fatalf("insert company: %v", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, name, role, company_id) VALUES ('a@acme.test', 'x', 'A', 'analyst', $1) RETURNING id`,
		companyID,
	).Scan(&userID); err != nil {
		t.Fatalf("insert user: %v", err)
	}

	if _, err := pool.Exec(ctx,
		`INSERT INTO users (email, password_hash, name, role) VALUES ('a@acme.test', 'y', 'B', 'ceo')`,
	); err == nil {
		t.Fatal("duplicate email should violate unique constraint")
	}

	if _, err := pool.Exec(ctx,
		`INSERT INTO users (email, password_hash, name, role) VALUES ('b@acme.test', 'y', 'B', 'intern')`,
	); err == nil {
		t.Fatal("unknown role should violate check constraint")
	}

	insertSheet := func(quarter any) error {
		_, err := pool.Exec(ctx,
			`INSERT INTO balance_sheets (company_id, year, quarter, data, uploaded_by) VALUES ($1, 2024, $2, '{"total_assets":1}', $3)`,
			companyID, quarter, userID,
		)
		return err
	}
	if err := insertSheet(1); err != nil {
		t.Fatalf("insert quarterly sheet: %v", err)
	}
	if err := insertSheet(1); err == nil {
		t.Fatal("duplicate quarterly period should violate unique index")
	}
	if err := insertSheet(nil); err != nil {
		t.Fatalf("insert annual sheet: %v", err)
	}
	if err := insertSheet(nil); err == nil {
		t.Fatal("duplicate annual period should violate partial unique index")
	}

	// Second run is a no-op.
	if err := runMigrations(ctx, pool, "../../migrations", nil, nil, func(string, ...any) {}); err != nil {
		t.Fatalf("second runMigrations failed: %v", err)
	}
}
