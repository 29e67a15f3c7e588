// Package itf provisions throwaway Postgres databases for integration tests.
// Tests are skipped unless TENANCY_INTEGRATION is set.
package itf

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/iota-uz/tenancy-backfill/pkg/configuration"
	"github.com/iota-uz/tenancy-backfill/pkg/dbconn"
)

const (
	// PostgreSQL database name maximum length is 63 characters
	maxDBNameLength = 63
	// Reserve space for hash suffix when truncating (8 chars + underscore)
	hashSuffixLength = 9
)

// Schema is a minimal version of the tables the registry touches.
const Schema = `
CREATE TABLE "Organization" (
	"id" SERIAL PRIMARY KEY,
	"code" TEXT UNIQUE,
	"name" TEXT NOT NULL,
	"status" TEXT NOT NULL,
	"createdAt" TIMESTAMPTZ NOT NULL,
	"updatedAt" TIMESTAMPTZ NOT NULL
);
CREATE TABLE "Store" ("id" SERIAL PRIMARY KEY, "organizationId" INT);
CREATE TABLE "cash_registers" ("id" SERIAL PRIMARY KEY, "storeId" INT, "organizationId" INT);
CREATE TABLE "User" ("id" SERIAL PRIMARY KEY, "organizationId" INT);
CREATE TABLE "OrganizationMembership" (
	"id" SERIAL PRIMARY KEY,
	"userId" INT NOT NULL,
	"organizationId" INT,
	"isDefault" BOOLEAN NOT NULL DEFAULT false
);
`

// Enabled reports whether integration tests should run.
func Enabled() bool {
	return os.Getenv("TENANCY_INTEGRATION") != ""
}

// NewDatabase creates a fresh database named after the test, applies Schema
// and returns an open handle. The database is dropped on cleanup.
func NewDatabase(t *testing.T) *sql.DB {
	t.Helper()
	if !Enabled() {
		t.Skip("set TENANCY_INTEGRATION=1 to run against Postgres")
	}
	conf, err := configuration.Use()
	if err != nil {
		t.Fatalf("configuration: %v", err)
	}

	name := sanitizeDBName(t.Name())
	admin, err := sql.Open("postgres", dsn(conf.Database, "postgres"))
	if err != nil {
		t.Fatalf("open admin connection: %v", err)
	}
	t.Cleanup(func() { _ = admin.Close() })
	ctx := context.Background()
	if _, err := admin.ExecContext(ctx, "DROP DATABASE IF EXISTS "+pq.QuoteIdentifier(name)); err != nil {
		t.Fatalf("drop database: %v", err)
	}
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		t.Fatalf("create database: %v", err)
	}

	conn, err := dbconn.Connect(ctx, dsn(conf.Database, name), 10*time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		_, _ = admin.ExecContext(context.Background(), "DROP DATABASE IF EXISTS "+pq.QuoteIdentifier(name))
	})
	if _, err := conn.DB.ExecContext(ctx, Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn.DB
}

func dsn(d configuration.DatabaseOptions, name string) string {
	d.Name = name
	return d.ConnectionString()
}

// sanitizeDBName lowercases the name, folds special characters into
// underscores and keeps it within the 63-character limit.
func sanitizeDBName(name string) string {
	sanitized := strings.ToLower(name)
	sanitized = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, sanitized)
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "test_db"
	}
	if len(sanitized) <= maxDBNameLength {
		return sanitized
	}
	return truncateWithHash(sanitized, name)
}

func truncateWithHash(sanitized, original string) string {
	sum := sha256.Sum256([]byte(original))
	hash := fmt.Sprintf("%x", sum)[:8]
	return sanitized[:maxDBNameLength-hashSuffixLength] + "_" + hash
}
