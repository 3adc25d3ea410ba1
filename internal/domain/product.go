package domain

import "strings"

// ProductRecord is one catalog entry. The catalog is loaded once at startup
// and treated as immutable for the process lifetime.
type ProductRecord struct {
	ProductID   string   `json:"product_id"`
	Brand       string   `json:"brand"`
	ProductName string   `json:"product_name"`
	Aliases     []string `json:"aliases,omitempty"`
	Barcode     string   `json:"barcode,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Packaging   []string `json:"packaging,omitempty"`
	VolumeML    *int     `json:"volume_ml,omitempty"`
	ABV         *float64 `json:"abv,omitempty"`
	SugarFree   *bool    `json:"sugar_free,omitempty"`
	ColorHints  []string `json:"color_hints,omitempty"`
	Family      string   `json:"family,omitempty"`
}

// DisplayName combines brand and product name for user-facing output.
func (p *ProductRecord) DisplayName() string {
	brand := strings.TrimSpace(p.Brand)
	name := strings.TrimSpace(p.ProductName)
	if brand != "" && name != "" {
		return brand + " " + name
	}
	if name != "" {
		return name
	}
	return brand
}

// Detection is a visual label detection produced by an inference collaborator.
type Detection struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox,omitempty"`
}

// TextDetection is one OCR span produced by an inference collaborator.
type TextDetection struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox,omitempty"`
}

// StructuredFields holds typed attributes pulled out of raw text and labels.
// Every field is independently optional.
type StructuredFields struct {
	Brand       string   `json:"brand,omitempty"`
	ProductName string   `json:"product_name,omitempty"`
	Flavor      string   `json:"flavor,omitempty"`
	VolumeML    *int     `json:"volume_ml,omitempty"`
	ABV         *float64 `json:"abv,omitempty"`
	SugarFree   *bool    `json:"sugar_free,omitempty"`
	Kcal        *int     `json:"kcal,omitempty"`
}

// ObservedEvidence is the transient, per-request description of the scanned
// product: noisy OCR, barcode, visual labels, packaging guess, and any
// structured attributes already extracted upstream.
type ObservedEvidence struct {
	OCRLines           []string           `json:"ocr_lines,omitempty"`
	TextDetections     []TextDetection    `json:"text_detections,omitempty"`
	Barcode            string             `json:"barcode,omitempty"`
	PackagingType      string             `json:"packaging_type,omitempty"`
	VisualHints        []string           `json:"visual_hints,omitempty"`
	VisualScoreByLabel map[string]float64 `json:"visual_score_by_label,omitempty"`
	BrandHint          string             `json:"brand_hint,omitempty"`
	Structured         StructuredFields   `json:"structured_fields"`
}

// MatchEvidence explains which evidence channels contributed to a candidate.
type MatchEvidence struct {
	MatchedFields    []string `json:"matched_fields,omitempty"`
	TokenHits        []string `json:"token_hits,omitempty"`
	VisualSimilarity float64  `json:"visual_similarity,omitempty"`
	VolumeMLUsed     *int     `json:"volume_ml_used,omitempty"`
	PackagingUsed    string   `json:"packaging_used,omitempty"`
	OCRSample        string   `json:"ocr_sample,omitempty"`
}

// RankedCandidate is one scored catalog product in a ranking result.
type RankedCandidate struct {
	ProductID   string        `json:"product_id"`
	Name        string        `json:"name"`
	Brand       string        `json:"brand,omitempty"`
	ProductName string        `json:"product_name,omitempty"`
	Barcode     string        `json:"barcode,omitempty"`
	RawScore    float64       `json:"raw_score"`
	Confidence  float64       `json:"confidence"`
	Reasons     []string      `json:"reasons,omitempty"`
	Evidence    MatchEvidence `json:"evidence"`
	Rank        int           `json:"rank"`
	ScoreMargin float64       `json:"score_margin_to_next"`
	Accepted    bool          `json:"accepted"`
}
