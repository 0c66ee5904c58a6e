//go:build integration
// +build integration

// Package pgtest gives each integration test its own migrated PostgreSQL
// database. One container serves the whole test binary; databases are cloned
// from a migrated template so tests never see each other's rows.
package pgtest

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"github.com/Apurer/go-catalog-pipeline/internal/platform/migrations"
	"github.com/Apurer/go-catalog-pipeline/internal/platform/postgres"
)

const templateDB = "catalog_template"

var (
	once    sync.Once
	baseDSN string
	admin   *gorm.DB
	errInit error
	seq     atomic.Int64
)

// Setup returns a fresh migrated database, its DSN and a cleanup func.
// The container is reaped by testcontainers when the test binary exits.
func Setup(t *testing.T) (*gorm.DB, string, func()) {
	t.Helper()
	ctx := context.Background()
	once.Do(func() { errInit = start(ctx) })
	require.NoError(t, errInit)

	name := fmt.Sprintf("catalog_%d_%d", time.Now().UnixNano()%1e6, seq.Add(1))
	require.NoError(t, admin.Exec(fmt.Sprintf("CREATE DATABASE %s TEMPLATE %s", name, templateDB)).Error)

	dsn := withDatabase(baseDSN, name)
	db, err := postgres.Connect(ctx, dsn, postgres.Options{MaxOpenConns: 8})
	require.NoError(t, err)

	cleanup := func() {
		_ = postgres.Close(db)
		_ = admin.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", name)).Error
	}
	return db, dsn, cleanup
}

func start(ctx context.Context) error {
	container, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase(templateDB),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return fmt.Errorf("start postgres container: %w", err)
	}
	baseDSN, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return err
	}

	template, err := postgres.Connect(ctx, baseDSN, postgres.Options{})
	if err != nil {
		return err
	}
	if err := migrations.Run(template); err != nil {
		_ = postgres.Close(template)
		return fmt.Errorf("migrate template: %w", err)
	}
	// CREATE DATABASE ... TEMPLATE fails while the template has sessions.
	if err := postgres.Close(template); err != nil {
		return err
	}

	admin, err = postgres.Connect(ctx, withDatabase(baseDSN, "postgres"), postgres.Options{MaxOpenConns: 2})
	return err
}

func withDatabase(dsn, name string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	u.Path = "/" + name
	return u.String()
}
