package warehouse

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/apperrors"
)

// Options configures a collector created through the registry.
type Options struct {
	URL              string
	StatsBatchSize   int
	StatsConcurrency int
}

// Factory creates a collector for a warehouse type.
type Factory func(ctx context.Context, opts Options, logger *zap.Logger) (Collector, error)

// Registration describes a collector implementation.
type Registration struct {
	Type        string // "postgres", "mssql"
	DisplayName string
	Factory     Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register is called by each collector package's init() function.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Type] = reg
}

// RegisteredTypes returns the registered warehouse types in sorted order.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsRegistered checks if a warehouse type is available.
func IsRegistered(warehouseType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[warehouseType]
	return ok
}

// New creates a collector for the given warehouse type.
func New(ctx context.Context, warehouseType string, opts Options, logger *zap.Logger) (Collector, error) {
	registryMu.RLock()
	reg, ok := registry[warehouseType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("warehouse type %q: %w", warehouseType, apperrors.ErrUnknownWarehouse)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return reg.Factory(ctx, opts, logger)
}
