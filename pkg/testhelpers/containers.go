package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/database"
)

// PostgresImage is the stock image used for both the warehouse fixture and the metadata store.
const PostgresImage = "postgres:16-alpine"

const (
	testUser     = "ekaya"
	testPassword = "test_password"
	warehouseDB  = "warehouse"
	catalogDB    = "catalog_test"
)

// warehouseFixture is a small table shaped like a geographic warehouse table.
const warehouseFixture = `
CREATE SCHEMA IF NOT EXISTS sales;
CREATE TABLE IF NOT EXISTS sales.places (
	place_id    BIGINT PRIMARY KEY,
	country     VARCHAR(64) NOT NULL,
	city_name   TEXT,
	latitude    DOUBLE PRECISION,
	longitude   DOUBLE PRECISION,
	visited_at  TIMESTAMPTZ,
	tags        TEXT[]
);
INSERT INTO sales.places (place_id, country, city_name, latitude, longitude, visited_at, tags)
SELECT g,
       (ARRAY['US', 'DE', 'FR', 'JP'])[1 + g % 4],
       'city_' || (g % 30),
       -45 + (g % 90),
       -90 + (g % 180),
       NOW() - (g || ' hours')::interval,
       ARRAY['a', 'b']
FROM generate_series(1, 200) AS g
ON CONFLICT DO NOTHING;
`

// TestDB holds a shared PostgreSQL container and a pool on its warehouse database.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run; its
// default database holds the warehouse fixture tables.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       warehouseDB,
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		// The server logs readiness twice: once for the init phase, once for real.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	connStr, err := connString(ctx, container, warehouseDB)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if _, err := pool.Exec(ctx, warehouseFixture); err != nil {
		return nil, fmt.Errorf("failed to load warehouse fixture: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
	}, nil
}

func connString(ctx context.Context, container testcontainers.Container, dbName string) (string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("failed to get container port: %w", err)
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		testUser, testPassword, host, port.Port(), dbName), nil
}

// CatalogDB holds the metadata store connection with migrations applied.
// Use this for testing repositories and services against a real database.
type CatalogDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	sharedCatalogDB     *CatalogDB
	sharedCatalogDBOnce sync.Once
	sharedCatalogDBErr  error
)

// GetCatalogDB returns a shared metadata store for integration tests.
// The database has migrations applied and is reused across all tests.
func GetCatalogDB(t *testing.T) *CatalogDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	testDB := GetTestDB(t)

	sharedCatalogDBOnce.Do(func() {
		sharedCatalogDB, sharedCatalogDBErr = setupCatalogDB(testDB)
	})

	if sharedCatalogDBErr != nil {
		t.Fatalf("Failed to setup catalog database: %v", sharedCatalogDBErr)
	}

	return sharedCatalogDB
}

func setupCatalogDB(testDB *TestDB) (*CatalogDB, error) {
	ctx := context.Background()

	if _, err := testDB.Pool.Exec(ctx, "CREATE DATABASE "+catalogDB); err != nil {
		return nil, fmt.Errorf("failed to create catalog database: %w", err)
	}

	connStr, err := connString(ctx, testDB.Container, catalogDB)
	if err != nil {
		return nil, err
	}

	// Run migrations using database/sql (required by golang-migrate)
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to catalog database: %w", err)
	}

	return &CatalogDB{
		DB:      db,
		ConnStr: connStr,
	}, nil
}

// Truncate empties every catalog table so a test starts from a clean store.
func (c *CatalogDB) Truncate(t *testing.T) {
	t.Helper()
	_, err := c.DB.Exec(context.Background(),
		"TRUNCATE catalog_relationships, catalog_columns, catalog_tables CASCADE")
	if err != nil {
		t.Fatalf("failed to truncate catalog tables: %v", err)
	}
}
