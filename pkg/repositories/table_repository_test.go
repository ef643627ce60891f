//go:build integration

package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/catalog-enricher/pkg/apperrors"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
	"github.com/ekaya-inc/catalog-enricher/pkg/testhelpers"
)

const testMaxRetries = 3

func setupTableRepo(t *testing.T) (TableRepository, *testhelpers.CatalogDB) {
	t.Helper()
	catalog := testhelpers.GetCatalogDB(t)
	catalog.Truncate(t)
	return NewTableRepository(catalog.DB), catalog
}

func claimOpts() ClaimOptions {
	return ClaimOptions{MaxRetries: testMaxRetries}
}

func TestTableRepository_RegisterAndGet(t *testing.T) {
	repo, _ := setupTableRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Register(ctx, "cat.sch.t1"))
	require.NoError(t, repo.Register(ctx, "cat.sch.t1"), "register is idempotent")

	rec, err := repo.Get(ctx, "cat.sch.t1")
	require.NoError(t, err)
	assert.Equal(t, models.SchemaStatusCurrent, rec.SchemaStatus)
	for _, axis := range models.ValidAxes {
		assert.Equal(t, models.AxisStateNotStarted, rec.Status(axis).State, "axis %s", axis)
		assert.Equal(t, axis, rec.Status(axis).Axis)
	}

	_, err = repo.Get(ctx, "cat.sch.missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestTableRepository_UpsertKeepsStatus(t *testing.T) {
	repo, _ := setupTableRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Register(ctx, "cat.sch.t1"))
	_, err := repo.ClaimAxis(ctx, "cat.sch.t1", models.AxisEnrichment, claimOpts())
	require.NoError(t, err)

	rec := &models.TableRecord{
		ID:           "cat.sch.t1",
		RowCount:     1000000,
		ColumnCount:  3,
		SchemaStatus: models.SchemaStatusChanged,
		SchemaChanges: &models.SchemaChanges{
			NewColumns: []string{"lat"},
		},
	}
	require.NoError(t, repo.Upsert(ctx, rec))

	got, err := repo.Get(ctx, "cat.sch.t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), got.RowCount)
	assert.Equal(t, 3, got.ColumnCount)
	assert.Equal(t, models.SchemaStatusChanged, got.SchemaStatus)
	require.NotNil(t, got.SchemaChanges)
	assert.Equal(t, []string{"lat"}, got.SchemaChanges.NewColumns)
	assert.Equal(t, models.AxisStateInProgress, got.Enrichment.State, "upsert must not touch axes")
}

func TestTableRepository_DownstreamClaimGatedOnEnrichment(t *testing.T) {
	repo, _ := setupTableRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Register(ctx, "cat.sch.t1"))

	_, err := repo.ClaimAxis(ctx, "cat.sch.t1", models.AxisRelationships, claimOpts())
	assert.True(t, errors.Is(err, apperrors.ErrAxisNotEligible), "got %v", err)

	got, err := repo.Get(ctx, "cat.sch.t1")
	require.NoError(t, err)
	assert.Equal(t, models.AxisStateNotStarted, got.Relationships.State)

	at := claim(t, repo, "cat.sch.t1", models.AxisEnrichment)
	require.NoError(t, repo.CompleteAxis(ctx, "cat.sch.t1", models.AxisEnrichment, at))

	rec, err := repo.ClaimAxis(ctx, "cat.sch.t1", models.AxisRelationships, claimOpts())
	require.NoError(t, err)
	assert.Equal(t, models.AxisStateInProgress, rec.Relationships.State)
	assert.NotNil(t, rec.Relationships.LastAttempt)
}

func TestTableRepository_ClaimExactlyOnceUnderConcurrency(t *testing.T) {
	repo, _ := setupTableRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Register(ctx, "cat.sch.t1"))
	at := claim(t, repo, "cat.sch.t1", models.AxisEnrichment)
	require.NoError(t, repo.CompleteAxis(ctx, "cat.sch.t1", models.AxisEnrichment, at))

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		busy    int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ClaimAxis(ctx, "cat.sch.t1", models.AxisRelationships, claimOpts())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, apperrors.ErrAxisBusy):
				busy++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, callers-1, busy)
}

func TestTableRepository_RetryCeiling(t *testing.T) {
	repo, _ := setupTableRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Register(ctx, "cat.sch.t1"))

	for attempt := 1; attempt <= testMaxRetries; attempt++ {
		at := claim(t, repo, "cat.sch.t1", models.AxisEnrichment)
		count, err := repo.FailAxis(ctx, "cat.sch.t1", models.AxisEnrichment, at, "warehouse timeout")
		require.NoError(t, err)
		assert.Equal(t, attempt, count)
	}

	got, err := repo.Get(ctx, "cat.sch.t1")
	require.NoError(t, err)
	assert.Equal(t, models.AxisStateFailed, got.Enrichment.State)
	assert.Equal(t, testMaxRetries, got.Enrichment.RetryCount)
	require.NotNil(t, got.Enrichment.LastError)
	assert.Equal(t, "warehouse timeout", *got.Enrichment.LastError)

	_, err = repo.ClaimAxis(ctx, "cat.sch.t1", models.AxisEnrichment, claimOpts())
	assert.True(t, errors.Is(err, apperrors.ErrAxisNotEligible), "fourth attempt must be refused, got %v", err)

	ids, err := repo.ScanTables(ctx, TableFilter{
		Axis:          models.AxisEnrichment,
		States:        []models.AxisState{models.AxisStateNotStarted, models.AxisStateFailed},
		MaxRetryCount: testMaxRetries,
	})
	require.NoError(t, err)
	assert.Empty(t, ids, "exhausted tables are not eligible for the sweep")

	// Force refresh re-enters regardless and restores the retry budget.
	rec, err := repo.ClaimAxis(ctx, "cat.sch.t1", models.AxisEnrichment, ClaimOptions{MaxRetries: testMaxRetries, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Enrichment.RetryCount)
}

func TestTableRepository_CompleteClearsError(t *testing.T) {
	repo, _ := setupTableRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Register(ctx, "cat.sch.t1"))

	at := claim(t, repo, "cat.sch.t1", models.AxisEnrichment)
	_, err := repo.FailAxis(ctx, "cat.sch.t1", models.AxisEnrichment, at, "boom")
	require.NoError(t, err)

	at = claim(t, repo, "cat.sch.t1", models.AxisEnrichment)
	require.NoError(t, repo.CompleteAxis(ctx, "cat.sch.t1", models.AxisEnrichment, at))

	got, err := repo.Get(ctx, "cat.sch.t1")
	require.NoError(t, err)
	assert.Equal(t, models.AxisStateCompleted, got.Enrichment.State)
	assert.Nil(t, got.Enrichment.LastError)
	assert.NotNil(t, got.Enrichment.CompletedAt)
	assert.Equal(t, 1, got.Enrichment.RetryCount, "retry count is monotonic")

	err = repo.CompleteAxis(ctx, "cat.sch.t1", models.AxisEnrichment, at)
	assert.True(t, errors.Is(err, apperrors.ErrConflict), "completing twice must fail, got %v", err)
}

func TestTableRepository_ExpireStale(t *testing.T) {
	repo, catalog := setupTableRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Register(ctx, "cat.sch.stuck"))
	require.NoError(t, repo.Register(ctx, "cat.sch.fresh"))

	_, err := repo.ClaimAxis(ctx, "cat.sch.stuck", models.AxisEnrichment, claimOpts())
	require.NoError(t, err)
	_, err = repo.ClaimAxis(ctx, "cat.sch.fresh", models.AxisEnrichment, claimOpts())
	require.NoError(t, err)

	_, err = catalog.DB.Exec(ctx, `
		UPDATE catalog_tables SET enrichment_last_attempt = NOW() - INTERVAL '2 hours'
		WHERE id = 'cat.sch.stuck'`)
	require.NoError(t, err)

	expired, err := repo.ExpireStale(ctx, models.AxisEnrichment, time.Now().Add(-30*time.Minute), "abandoned")
	require.NoError(t, err)
	assert.Equal(t, []models.TableID{"cat.sch.stuck"}, expired)

	stuck, err := repo.Get(ctx, "cat.sch.stuck")
	require.NoError(t, err)
	assert.Equal(t, models.AxisStateFailed, stuck.Enrichment.State)
	assert.Equal(t, 1, stuck.Enrichment.RetryCount)

	fresh, err := repo.Get(ctx, "cat.sch.fresh")
	require.NoError(t, err)
	assert.Equal(t, models.AxisStateInProgress, fresh.Enrichment.State)
}

func TestTableRepository_TakenOverClaimIsRejected(t *testing.T) {
	repo, catalog := setupTableRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Register(ctx, "cat.sch.t1"))

	claim(t, repo, "cat.sch.t1", models.AxisEnrichment)
	_, err := catalog.DB.Exec(ctx, `
		UPDATE catalog_tables SET enrichment_last_attempt = NOW() - INTERVAL '2 hours'
		WHERE id = 'cat.sch.t1'`)
	require.NoError(t, err)
	got, err := repo.Get(ctx, "cat.sch.t1")
	require.NoError(t, err)
	stale := *got.Enrichment.LastAttempt

	_, err = repo.ExpireStale(ctx, models.AxisEnrichment, time.Now().Add(-30*time.Minute), "abandoned")
	require.NoError(t, err)
	current := claim(t, repo, "cat.sch.t1", models.AxisEnrichment)

	// The first worker wakes up and reports its outcome.
	err = repo.CompleteAxis(ctx, "cat.sch.t1", models.AxisEnrichment, stale)
	assert.True(t, errors.Is(err, apperrors.ErrConflict), "got %v", err)
	_, err = repo.FailAxis(ctx, "cat.sch.t1", models.AxisEnrichment, stale, "late failure")
	assert.True(t, errors.Is(err, apperrors.ErrConflict), "got %v", err)
	require.NoError(t, repo.ReleaseAxis(ctx, "cat.sch.t1", models.AxisEnrichment, stale))

	got, err = repo.Get(ctx, "cat.sch.t1")
	require.NoError(t, err)
	assert.Equal(t, models.AxisStateInProgress, got.Enrichment.State, "the newer claim keeps the axis")
	assert.Equal(t, 1, got.Enrichment.RetryCount)

	require.NoError(t, repo.CompleteAxis(ctx, "cat.sch.t1", models.AxisEnrichment, current))
}

func TestTableRepository_ReleaseAndReset(t *testing.T) {
	repo, _ := setupTableRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Register(ctx, "cat.sch.t1"))

	at := claim(t, repo, "cat.sch.t1", models.AxisEnrichment)
	require.NoError(t, repo.ReleaseAxis(ctx, "cat.sch.t1", models.AxisEnrichment, at))

	got, err := repo.Get(ctx, "cat.sch.t1")
	require.NoError(t, err)
	assert.Equal(t, models.AxisStateNotStarted, got.Enrichment.State)
	assert.Equal(t, 0, got.Enrichment.RetryCount)

	at = claim(t, repo, "cat.sch.t1", models.AxisEnrichment)
	_, err = repo.FailAxis(ctx, "cat.sch.t1", models.AxisEnrichment, at, "boom")
	require.NoError(t, err)
	require.NoError(t, repo.ResetAxis(ctx, "cat.sch.t1", models.AxisEnrichment))

	got, err = repo.Get(ctx, "cat.sch.t1")
	require.NoError(t, err)
	assert.Equal(t, models.AxisStateNotStarted, got.Enrichment.State)
	assert.Equal(t, 0, got.Enrichment.RetryCount)
	assert.Nil(t, got.Enrichment.LastError)
}

func TestTableRepository_ScanTablesFilters(t *testing.T) {
	repo, _ := setupTableRepo(t)
	ctx := context.Background()
	for _, id := range []models.TableID{"cat.a.t1", "cat.a.t2", "cat.b.t3"} {
		require.NoError(t, repo.Register(ctx, id))
	}
	at := claim(t, repo, "cat.a.t2", models.AxisEnrichment)
	require.NoError(t, repo.CompleteAxis(ctx, "cat.a.t2", models.AxisEnrichment, at))

	all, err := repo.ScanTables(ctx, TableFilter{})
	require.NoError(t, err)
	assert.Equal(t, []models.TableID{"cat.a.t1", "cat.a.t2", "cat.b.t3"}, all)

	prefixed, err := repo.ScanTables(ctx, TableFilter{Prefix: "cat.a."})
	require.NoError(t, err)
	assert.Equal(t, []models.TableID{"cat.a.t1", "cat.a.t2"}, prefixed)

	enriched, err := repo.ScanTables(ctx, TableFilter{EnrichmentCompleted: true})
	require.NoError(t, err)
	assert.Equal(t, []models.TableID{"cat.a.t2"}, enriched)

	others, err := repo.ScanTables(ctx, TableFilter{Exclude: []models.TableID{"cat.a.t1"}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []models.TableID{"cat.a.t2"}, others)

	records, err := repo.List(ctx, TableFilter{Axis: models.AxisEnrichment, States: []models.AxisState{models.AxisStateNotStarted}})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.TableID("cat.a.t1"), records[0].ID)
}

// claim claims an axis and returns the claim's last_attempt.
func claim(t *testing.T, repo TableRepository, id models.TableID, axis models.Axis) time.Time {
	t.Helper()
	rec, err := repo.ClaimAxis(context.Background(), id, axis, claimOpts())
	require.NoError(t, err)
	require.NotNil(t, rec.Status(axis).LastAttempt)
	return *rec.Status(axis).LastAttempt
}
