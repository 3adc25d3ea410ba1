package usecase

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/foodscan/backend/internal/domain"
)

// Numeric patterns run over a lightly-cleaned lowercase join of the raw OCR
// lines: the full normalizer turns decimal commas into spaces, and the
// extractor must accept both comma and dot separators.
var (
	volumeRegex = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(ml|l)\b`)
	abvRegex    = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%`)
	kcalRegex   = regexp.MustCompile(`\b(\d{1,4})\s*kcal\b`)
)

// sugarZeroHints mark a product as sugar free; sugarRegularHints as the
// sugared variant. A bare "sugar" mention without a zero hint also reads as
// the sugared variant.
var (
	sugarZeroHints = []string{
		"sugar free", "sugarfree", "sukkerfri", "uten sukker",
		"no sugar", "zero", "diet", "light",
	}
	sugarRegularHints = []string{"regular", "classic", "full sugar", "original"}
)

// flavorKeywords is the ordered vocabulary the flavor field is assembled from.
var flavorKeywords = []string{
	"orange", "lemon", "lime", "citrus", "grapefruit",
	"cherry", "raspberry", "strawberry", "blueberry", "berry",
	"apple", "pear", "peach", "mango", "pineapple", "grape", "tropical",
	"vanilla", "chocolate", "caramel", "coffee", "mint", "cola",
}

const (
	brandLineMaxTokens   = 2
	brandLineMinConf     = 0.6
	productLineMaxTokens = 4
	productLineMinConf   = 0.55
)

// ExtractFields pulls structured attributes out of OCR evidence. Each field
// is extracted independently; malformed numeric tokens simply leave the field
// unset. Never returns an error.
func ExtractFields(ocrLines []string, textDetections []domain.TextDetection) domain.StructuredFields {
	lines := ocrLines
	if len(lines) == 0 {
		for _, det := range textDetections {
			if strings.TrimSpace(det.Text) != "" {
				lines = append(lines, det.Text)
			}
		}
	}

	rawBlob := strings.ToLower(strings.Join(lines, " "))
	normBlob := NormalizeText(rawBlob)

	fields := domain.StructuredFields{
		VolumeML:  extractVolumeML(rawBlob),
		ABV:       extractABV(rawBlob),
		Kcal:      extractKcal(rawBlob),
		SugarFree: extractSugarFree(rawBlob),
		Flavor:    extractFlavor(normBlob),
	}
	fields.Brand, fields.ProductName = extractBrandAndProduct(textDetections)
	return fields
}

func extractVolumeML(blob string) *int {
	match := volumeRegex.FindStringSubmatch(blob)
	if match == nil {
		return nil
	}
	value, err := parseDecimal(match[1])
	if err != nil {
		return nil
	}
	ml := value
	if match[2] == "l" {
		ml = value * 1000
	}
	rounded := int(math.Round(ml))
	return &rounded
}

func extractABV(blob string) *float64 {
	match := abvRegex.FindStringSubmatch(blob)
	if match == nil {
		return nil
	}
	value, err := parseDecimal(match[1])
	if err != nil {
		return nil
	}
	return &value
}

func extractKcal(blob string) *int {
	match := kcalRegex.FindStringSubmatch(blob)
	if match == nil {
		return nil
	}
	value, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}
	return &value
}

func extractSugarFree(blob string) *bool {
	for _, hint := range sugarZeroHints {
		if strings.Contains(blob, hint) {
			v := true
			return &v
		}
	}
	for _, hint := range sugarRegularHints {
		if strings.Contains(blob, hint) {
			v := false
			return &v
		}
	}
	if strings.Contains(blob, "sugar") || strings.Contains(blob, "sukker") {
		v := false
		return &v
	}
	return nil
}

func extractFlavor(normBlob string) string {
	tokens := tokenSet(strings.Split(normBlob, " "))
	var matched []string
	for _, keyword := range flavorKeywords {
		if tokens[keyword] {
			matched = append(matched, keyword)
		}
	}
	return strings.Join(matched, " ")
}

// extractBrandAndProduct picks the brand from the first short, confident text
// line and the product name from the first line of up to four tokens. The
// line used for the brand is skipped for the product name so one strong line
// does not fill both fields.
func extractBrandAndProduct(textDetections []domain.TextDetection) (string, string) {
	brand := ""
	brandIndex := -1
	for i, det := range textDetections {
		if det.Confidence < brandLineMinConf {
			continue
		}
		tokens := Tokenize(det.Text)
		if len(tokens) == 0 || len(tokens) > brandLineMaxTokens {
			continue
		}
		brand = strings.Join(tokens, " ")
		brandIndex = i
		break
	}

	product := ""
	for i, det := range textDetections {
		if i == brandIndex || det.Confidence < productLineMinConf {
			continue
		}
		tokens := Tokenize(det.Text)
		if len(tokens) == 0 || len(tokens) > productLineMaxTokens {
			continue
		}
		product = strings.Join(tokens, " ")
		break
	}
	return brand, product
}

func parseDecimal(raw string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
}
