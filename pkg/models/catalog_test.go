package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/catalog-enricher/pkg/apperrors"
)

func TestParseTableID(t *testing.T) {
	id, err := ParseTableID(" cat.sch.t1 ")
	require.NoError(t, err)
	assert.Equal(t, TableID("cat.sch.t1"), id)

	catalog, schema, table := id.Parts()
	assert.Equal(t, "cat", catalog)
	assert.Equal(t, "sch", schema)
	assert.Equal(t, "t1", table)
	assert.Equal(t, "t1", id.Table())

	for _, bad := range []string{"", "sch.t1", "cat..t1", "a.b.c.d"} {
		_, err := ParseTableID(bad)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidTableID), "expected invalid id for %q", bad)
	}
}

func TestNewTableRecord_AllAxesNotStarted(t *testing.T) {
	rec := NewTableRecord("cat.sch.t1")
	for _, axis := range ValidAxes {
		status := rec.Status(axis)
		require.NotNil(t, status)
		assert.Equal(t, axis, status.Axis)
		assert.Equal(t, AxisStateNotStarted, status.State)
	}
	assert.Nil(t, rec.Status("bogus"))
}

func TestStatusAxis_IsStale(t *testing.T) {
	now := time.Now()
	old := now.Add(-time.Hour)
	recent := now.Add(-time.Minute)

	assert.True(t, StatusAxis{State: AxisStateInProgress, LastAttempt: &old}.IsStale(now, 30*time.Minute))
	assert.False(t, StatusAxis{State: AxisStateInProgress, LastAttempt: &recent}.IsStale(now, 30*time.Minute))
	assert.True(t, StatusAxis{State: AxisStateInProgress}.IsStale(now, 30*time.Minute))
	assert.False(t, StatusAxis{State: AxisStateFailed, LastAttempt: &old}.IsStale(now, 30*time.Minute))
}

func TestStatusAxis_Retryable(t *testing.T) {
	assert.True(t, StatusAxis{State: AxisStateNotStarted}.Retryable(3))
	assert.True(t, StatusAxis{State: AxisStateFailed, RetryCount: 2}.Retryable(3))
	assert.False(t, StatusAxis{State: AxisStateFailed, RetryCount: 3}.Retryable(3))
	assert.False(t, StatusAxis{State: AxisStateCompleted}.Retryable(3))
	assert.False(t, StatusAxis{State: AxisStateInProgress}.Retryable(3))
}

func TestAxis_DependsOnEnrichment(t *testing.T) {
	assert.False(t, AxisEnrichment.DependsOnEnrichment())
	assert.True(t, AxisRelationships.DependsOnEnrichment())
	assert.True(t, AxisGraphImport.DependsOnEnrichment())
}

func TestSchemaChanges_Summary(t *testing.T) {
	var none *SchemaChanges
	assert.False(t, none.HasChanges())
	assert.Equal(t, "no changes", none.Summary())

	changes := &SchemaChanges{
		NewColumns:     []string{"b", "a"},
		RemovedColumns: []string{"old"},
		TypeChanges:    []TypeChange{{Column: "x", OldType: "INTEGER", NewType: "BIGINT"}},
	}
	changes.Sort()
	assert.True(t, changes.HasChanges())
	assert.Equal(t, "new: a, b; removed: old; x: INTEGER -> BIGINT", changes.Summary())
}
