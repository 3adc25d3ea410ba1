// Package catalog loads the product catalog snapshot from a JSON file.
// The snapshot is read once at startup and treated as immutable; a missing
// or unreadable catalog degrades to an empty snapshot rather than failing,
// because an unusable catalog is a valid, if useless, state.
package catalog

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/foodscan/backend/internal/domain"
)

// catalogRow is the raw on-disk shape. Fields are coerced defensively; there
// is no error path for a bad row, it is either repaired or skipped.
type catalogRow struct {
	ID          string          `json:"id"`
	Brand       string          `json:"brand"`
	ProductName string          `json:"product_name"`
	Aliases     json.RawMessage `json:"aliases"`
	Keywords    json.RawMessage `json:"keywords"`
	Barcode     string          `json:"barcode"`
	Packaging   json.RawMessage `json:"packaging"`
	VolumeML    *int            `json:"volume_ml"`
	ABV         *float64        `json:"abv"`
	SugarFree   *bool           `json:"sugar_free"`
	ColorHints  json.RawMessage `json:"color_hints"`
	Family      string          `json:"family"`
}

// Load reads the catalog file at path. Rows lacking both brand and product
// name are skipped; a missing id is synthesized as "{brand}:{product_name}".
func Load(path string, logger zerolog.Logger) []domain.ProductRecord {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("catalog unavailable, using empty snapshot")
		return nil
	}

	var rows []catalogRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("catalog malformed, using empty snapshot")
		return nil
	}

	records := make([]domain.ProductRecord, 0, len(rows))
	for _, row := range rows {
		brand := strings.TrimSpace(row.Brand)
		name := strings.TrimSpace(row.ProductName)
		if brand == "" && name == "" {
			continue
		}
		id := strings.TrimSpace(row.ID)
		if id == "" {
			id = brand + ":" + name
		}
		records = append(records, domain.ProductRecord{
			ProductID:   id,
			Brand:       brand,
			ProductName: name,
			Aliases:     stringList(row.Aliases),
			Keywords:    stringList(row.Keywords),
			Barcode:     strings.TrimSpace(row.Barcode),
			Packaging:   stringList(row.Packaging),
			VolumeML:    row.VolumeML,
			ABV:         row.ABV,
			SugarFree:   row.SugarFree,
			ColorHints:  stringList(row.ColorHints),
			Family:      strings.TrimSpace(row.Family),
		})
	}
	logger.Info().Str("path", path).Int("size", len(records)).Msg("product catalog loaded")
	return records
}

// stringList coerces a JSON value into a list of non-empty trimmed strings.
// Non-list values coerce to empty.
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	output := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			output = append(output, trimmed)
		}
	}
	return output
}
