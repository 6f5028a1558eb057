package export

import (
	"strings"

	"github.com/aluiziolira/go-kiscon-crawler/models"
)

// dispositionColumn is the listing header naming the disposal content.
const dispositionColumn = "처분내용"

// DispositionColumn finds the disposal-content column: the exact header
// first, then any header containing both of its parts (the site has renamed
// it across redesigns).
func DispositionColumn(ds *models.Dataset) (string, bool) {
	if ds.ColumnIndex(dispositionColumn) >= 0 {
		return dispositionColumn, true
	}
	for _, col := range ds.Columns {
		if strings.Contains(col, "처분") && strings.Contains(col, "내용") {
			return col, true
		}
	}
	return "", false
}

// FilterByColumn returns a dataset keeping only records whose value in the
// named column is one of values. An unknown column or empty value set
// returns the dataset unchanged.
func FilterByColumn(ds *models.Dataset, column string, values []string) *models.Dataset {
	idx := ds.ColumnIndex(column)
	if idx < 0 || len(values) == 0 {
		return ds
	}

	wanted := make(map[string]struct{}, len(values))
	for _, v := range values {
		wanted[strings.TrimSpace(v)] = struct{}{}
	}

	filtered := models.NewDataset(ds.Columns...)
	for _, rec := range ds.Records {
		if _, ok := wanted[rec[idx]]; ok {
			filtered.Records = append(filtered.Records, rec)
		}
	}
	return filtered
}
