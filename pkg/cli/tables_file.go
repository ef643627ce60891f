package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

// tablesFile is the batch input of the enrich command:
//
//	tables:
//	  - analytics.sales.orders
//	  - analytics.sales.stores
type tablesFile struct {
	Tables []string `yaml:"tables"`
}

// loadTablesFile reads and validates a tables file. Duplicates are dropped,
// first occurrence wins.
func loadTablesFile(path string) ([]models.TableID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tables file: %w", err)
	}

	var f tablesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tables file %s: %w", path, err)
	}
	return parseTableIDs(f.Tables)
}

func parseTableIDs(raw []string) ([]models.TableID, error) {
	seen := make(map[models.TableID]bool, len(raw))
	ids := make([]models.TableID, 0, len(raw))
	for _, s := range raw {
		id, err := models.ParseTableID(s)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}
