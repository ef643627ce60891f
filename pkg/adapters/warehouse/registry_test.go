package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/apperrors"
)

func TestRegistry_UnknownType(t *testing.T) {
	_, err := New(context.Background(), "bigquery-does-not-exist", Options{}, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnknownWarehouse))
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	var gotOpts Options
	Register(Registration{
		Type:        "test-registry",
		DisplayName: "Test",
		Factory: func(ctx context.Context, opts Options, logger *zap.Logger) (Collector, error) {
			gotOpts = opts
			return nil, nil
		},
	})

	assert.True(t, IsRegistered("test-registry"))
	assert.Contains(t, RegisteredTypes(), "test-registry")

	_, err := New(context.Background(), "test-registry", Options{URL: "x", StatsBatchSize: 15}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", gotOpts.URL)
	assert.Equal(t, 15, gotOpts.StatsBatchSize)
}
