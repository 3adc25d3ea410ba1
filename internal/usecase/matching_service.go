package usecase

import (
	"math"
	"sort"
	"strings"

	"github.com/foodscan/backend/internal/domain"
)

// Signal weights for the score accumulator. raw_score is unbounded; the
// saturation ceiling below maps it into a confidence.
const (
	weightBarcodeExact      = 1.2
	weightBrandExact        = 0.55
	weightBrandSubstring    = 0.42
	weightBrandFuzzy        = 0.30
	weightProductExact      = 0.55
	weightProductSubstring  = 0.50
	weightProductFuzzy      = 0.36
	weightAliasFuzzy        = 0.18
	weightFlavorMatch       = 0.18
	weightKeywordFuzzy      = 0.12
	weightVisualBrandHint   = 0.18
	weightVisualLabelMatch  = 0.22
	weightPackagingMatch    = 0.14
	weightPackagingMismatch = -0.30
	weightVolumeMatch       = 0.20
	weightVolumeMismatch    = -0.45
	weightABVMatch          = 0.15
	weightABVMismatch       = -0.15
	weightSugarMatch        = 0.14
	weightSugarMismatch     = -0.35
)

const (
	volumeMatchToleranceML = 35
	volumeMismatchGapML    = 300
	abvTolerance           = 0.3
	minFuzzyOverlap        = 0.5
	ocrSampleMaxLen        = 160
)

// MatchTuning holds the empirical matching constants. The acceptance floor
// and margin are tunable, not fixed invariants.
type MatchTuning struct {
	TopK             int
	AcceptConfidence float64
	AcceptMargin     float64
	ScoreSaturation  float64
}

func (t MatchTuning) withDefaults() MatchTuning {
	if t.TopK <= 0 {
		t.TopK = 5
	}
	if t.AcceptConfidence <= 0 {
		t.AcceptConfidence = 0.6
	}
	if t.AcceptMargin <= 0 {
		t.AcceptMargin = 0.08
	}
	if t.ScoreSaturation <= 0 {
		// Empirical ceiling for barcode + brand + product exact matches.
		t.ScoreSaturation = 1.8
	}
	return t
}

// indexedProduct is a catalog entry with its normalized comparison forms
// precomputed at load time. The catalog is immutable, so this is done once.
type indexedProduct struct {
	record       domain.ProductRecord
	barcodeNorm  string
	brandNorm    string
	nameNorm     string
	aliasNorms   []string
	keywordNorms []string
	searchText   string
	flavorText   string
	packaging    map[string]bool
}

// MatchingService matches observed evidence against the product catalog:
// cheap prefilter, weighted multi-signal scoring, ranking, acceptance.
// Stateless after construction; safe for unrestricted concurrent use.
type MatchingService struct {
	items  []indexedProduct
	tuning MatchTuning
}

// NewMatchingService indexes the catalog snapshot and fixes the tuning.
func NewMatchingService(catalog []domain.ProductRecord, tuning MatchTuning) *MatchingService {
	items := make([]indexedProduct, 0, len(catalog))
	for _, record := range catalog {
		item := indexedProduct{
			record:      record,
			barcodeNorm: normalizeBarcode(record.Barcode),
			brandNorm:   NormalizeText(record.Brand),
			nameNorm:    NormalizeText(record.ProductName),
			packaging:   make(map[string]bool, len(record.Packaging)),
		}
		for _, alias := range record.Aliases {
			if norm := NormalizeText(alias); norm != "" {
				item.aliasNorms = append(item.aliasNorms, norm)
			}
		}
		for _, keyword := range record.Keywords {
			if norm := NormalizeText(keyword); norm != "" {
				item.keywordNorms = append(item.keywordNorms, norm)
			}
		}
		for _, tag := range record.Packaging {
			if norm := strings.ToLower(strings.TrimSpace(tag)); norm != "" {
				item.packaging[norm] = true
			}
		}
		parts := append([]string{item.brandNorm, item.nameNorm}, item.aliasNorms...)
		parts = append(parts, item.keywordNorms...)
		item.searchText = strings.TrimSpace(strings.Join(parts, " "))
		// Flavor matches against the product's own descriptors; a flavor word
		// that only occurs in the brand name is not a flavor signal.
		flavorParts := append([]string{item.nameNorm}, item.aliasNorms...)
		flavorParts = append(flavorParts, item.keywordNorms...)
		item.flavorText = strings.TrimSpace(strings.Join(flavorParts, " "))
		items = append(items, item)
	}
	return &MatchingService{items: items, tuning: tuning.withDefaults()}
}

// CatalogSize reports how many products are indexed.
func (s *MatchingService) CatalogSize() int {
	return len(s.items)
}

// observation is the per-request normalized view of the evidence.
type observation struct {
	blob          string
	tokens        map[string]bool
	barcodeNorm   string
	packagingType string
	brandHintNorm string
	visualScores  map[string]float64
	structured    domain.StructuredFields
	flavorNorm    string
}

// Rank scores the catalog against the evidence and returns the ranked,
// explained candidate list. An empty result means "no match" and the caller
// must treat it that way.
func (s *MatchingService) Rank(evidence domain.ObservedEvidence) []domain.RankedCandidate {
	if len(s.items) == 0 {
		return nil
	}
	obs := s.buildObservation(evidence)

	candidates := s.prefilter(obs)
	scored := make([]domain.RankedCandidate, 0, len(candidates))
	for _, item := range candidates {
		candidate, ok := s.score(item, obs)
		if ok {
			scored = append(scored, candidate)
		}
	}
	if len(scored) == 0 {
		return nil
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].RawScore != scored[j].RawScore {
			return scored[i].RawScore > scored[j].RawScore
		}
		return scored[i].Confidence > scored[j].Confidence
	})

	topK := s.tuning.TopK
	if topK < 1 {
		topK = 1
	}
	if len(scored) > topK {
		scored = scored[:topK]
	}

	for i := range scored {
		scored[i].Rank = i + 1
		if i < len(scored)-1 {
			scored[i].ScoreMargin = scored[i].RawScore - scored[i+1].RawScore
		}
	}
	top := &scored[0]
	top.Accepted = top.Confidence >= s.tuning.AcceptConfidence && top.ScoreMargin >= s.tuning.AcceptMargin
	return scored
}

func (s *MatchingService) buildObservation(evidence domain.ObservedEvidence) observation {
	lines := evidence.OCRLines
	if len(lines) == 0 {
		for _, det := range evidence.TextDetections {
			if strings.TrimSpace(det.Text) != "" {
				lines = append(lines, det.Text)
			}
		}
	}
	var normLines []string
	for _, line := range lines {
		if norm := NormalizeText(line); norm != "" {
			normLines = append(normLines, norm)
		}
	}
	blob := strings.Join(normLines, " ")

	structured := mergeStructured(evidence.Structured, ExtractFields(lines, evidence.TextDetections))

	visualScores := make(map[string]float64)
	for label, score := range evidence.VisualScoreByLabel {
		if norm := NormalizeText(label); norm != "" {
			visualScores[norm] = math.Max(visualScores[norm], clamp01(score))
		}
	}
	for _, label := range evidence.VisualHints {
		if norm := NormalizeText(label); norm != "" {
			if _, seen := visualScores[norm]; !seen {
				visualScores[norm] = 0
			}
		}
	}

	return observation{
		blob:          blob,
		tokens:        tokenSet(strings.Split(blob, " ")),
		barcodeNorm:   normalizeBarcode(evidence.Barcode),
		packagingType: strings.ToLower(strings.TrimSpace(evidence.PackagingType)),
		brandHintNorm: NormalizeText(evidence.BrandHint),
		visualScores:  visualScores,
		structured:    structured,
		flavorNorm:    NormalizeText(structured.Flavor),
	}
}

// mergeStructured prefers explicitly-provided fields over extracted ones.
func mergeStructured(provided, extracted domain.StructuredFields) domain.StructuredFields {
	merged := provided
	if merged.Brand == "" {
		merged.Brand = extracted.Brand
	}
	if merged.ProductName == "" {
		merged.ProductName = extracted.ProductName
	}
	if merged.Flavor == "" {
		merged.Flavor = extracted.Flavor
	}
	if merged.VolumeML == nil {
		merged.VolumeML = extracted.VolumeML
	}
	if merged.ABV == nil {
		merged.ABV = extracted.ABV
	}
	if merged.SugarFree == nil {
		merged.SugarFree = extracted.SugarFree
	}
	if merged.Kcal == nil {
		merged.Kcal = extracted.Kcal
	}
	return merged
}

// prefilter narrows the catalog before full scoring. A product qualifies if
// any single channel fires; if nothing qualifies the full catalog is scored
// so a weak prefilter never drops a true match.
func (s *MatchingService) prefilter(obs observation) []*indexedProduct {
	var selected []*indexedProduct
	for i := range s.items {
		item := &s.items[i]
		if s.prefilterHit(item, obs) {
			selected = append(selected, item)
		}
	}
	if len(selected) == 0 {
		selected = make([]*indexedProduct, 0, len(s.items))
		for i := range s.items {
			selected = append(selected, &s.items[i])
		}
	}
	return selected
}

func (s *MatchingService) prefilterHit(item *indexedProduct, obs observation) bool {
	if obs.barcodeNorm != "" && item.barcodeNorm != "" && obs.barcodeNorm == item.barcodeNorm {
		return true
	}
	if obs.blob != "" {
		if item.brandNorm != "" && strings.Contains(obs.blob, item.brandNorm) {
			return true
		}
		for _, alias := range item.aliasNorms {
			if strings.Contains(obs.blob, alias) {
				return true
			}
		}
		for _, keyword := range item.keywordNorms {
			if strings.Contains(obs.blob, keyword) {
				return true
			}
		}
	}
	if obs.brandHintNorm != "" && strings.Contains(item.searchText, obs.brandHintNorm) {
		return true
	}
	for label := range obs.visualScores {
		if strings.Contains(item.searchText, label) {
			return true
		}
	}
	if obs.packagingType != "" && item.packaging[obs.packagingType] {
		return true
	}
	return false
}

// score accumulates the weighted signal contributions for one candidate.
// Returns false when the raw score is not positive.
func (s *MatchingService) score(item *indexedProduct, obs observation) (domain.RankedCandidate, bool) {
	raw := 0.0
	reasons := newReasonList()
	evidence := domain.MatchEvidence{OCRSample: truncate(obs.blob, ocrSampleMaxLen)}

	if obs.barcodeNorm != "" && item.barcodeNorm != "" && obs.barcodeNorm == item.barcodeNorm {
		raw += weightBarcodeExact
		reasons.add("barcode_exact")
		evidence.MatchedFields = append(evidence.MatchedFields, "barcode")
	}

	// Brand: structured exact > catalog-brand substring > fuzzy overlap.
	extractedBrand := NormalizeText(obs.structured.Brand)
	switch {
	case extractedBrand != "" && item.brandNorm != "" && extractedBrand == item.brandNorm:
		raw += weightBrandExact
		reasons.add("brand_exact")
		evidence.MatchedFields = append(evidence.MatchedFields, "brand")
	case item.brandNorm != "" && obs.blob != "" && strings.Contains(obs.blob, item.brandNorm):
		raw += weightBrandSubstring
		reasons.add("brand_substring")
		evidence.MatchedFields = append(evidence.MatchedFields, "brand")
	default:
		phrases := append([]string{item.brandNorm}, item.aliasNorms...)
		if overlap, hits := fuzzyOverlap(phrases, obs.blob, obs.tokens); overlap > 0 {
			raw += weightBrandFuzzy * overlap
			reasons.add("brand_fuzzy")
			evidence.TokenHits = append(evidence.TokenHits, hits...)
		}
	}

	// Product name: same ladder.
	extractedName := NormalizeText(obs.structured.ProductName)
	switch {
	case extractedName != "" && item.nameNorm != "" && extractedName == item.nameNorm:
		raw += weightProductExact
		reasons.add("product_exact")
		evidence.MatchedFields = append(evidence.MatchedFields, "product_name")
	case item.nameNorm != "" && obs.blob != "" && strings.Contains(obs.blob, item.nameNorm):
		raw += weightProductSubstring
		reasons.add("product_substring")
		evidence.MatchedFields = append(evidence.MatchedFields, "product_name")
	default:
		if overlap, hits := fuzzyOverlap([]string{item.nameNorm}, obs.blob, obs.tokens); overlap > 0 {
			raw += weightProductFuzzy * overlap
			reasons.add("product_fuzzy")
			evidence.TokenHits = append(evidence.TokenHits, hits...)
		}
	}

	if overlap, hits := fuzzyOverlap(item.aliasNorms, obs.blob, obs.tokens); overlap > 0 {
		raw += weightAliasFuzzy * overlap
		reasons.add("alias_fuzzy")
		evidence.TokenHits = append(evidence.TokenHits, hits...)
	}

	if obs.flavorNorm != "" && item.flavorText != "" {
		itemTokens := tokenSet(strings.Split(item.flavorText, " "))
		if overlap, _ := fuzzyOverlap([]string{obs.flavorNorm}, item.flavorText, itemTokens); overlap > 0 {
			raw += weightFlavorMatch * overlap
			reasons.add("flavor_match")
			evidence.MatchedFields = append(evidence.MatchedFields, "flavor")
		}
	}

	if overlap, hits := fuzzyOverlap(item.keywordNorms, obs.blob, obs.tokens); overlap > 0 {
		raw += weightKeywordFuzzy * overlap
		reasons.add("keyword_fuzzy")
		evidence.TokenHits = append(evidence.TokenHits, hits...)
	}

	if obs.brandHintNorm != "" && item.brandNorm != "" && obs.brandHintNorm == item.brandNorm {
		raw += weightVisualBrandHint
		reasons.add("visual_brand_hint")
	}

	if similarity := s.visualLabelSimilarity(item, obs); similarity > 0 {
		raw += weightVisualLabelMatch * similarity
		reasons.add("visual_label_match")
		evidence.VisualSimilarity = similarity
	}

	if obs.packagingType != "" && len(item.packaging) > 0 {
		evidence.PackagingUsed = obs.packagingType
		if item.packaging[obs.packagingType] {
			raw += weightPackagingMatch
			reasons.add("packaging_match")
		} else {
			raw += weightPackagingMismatch
			reasons.add("packaging_mismatch")
		}
	}

	if obs.structured.VolumeML != nil && item.record.VolumeML != nil {
		evidence.VolumeMLUsed = obs.structured.VolumeML
		delta := abs(*obs.structured.VolumeML - *item.record.VolumeML)
		if delta <= volumeMatchToleranceML {
			raw += weightVolumeMatch
			reasons.add("volume_match")
		} else if delta >= volumeMismatchGapML {
			raw += weightVolumeMismatch
			reasons.add("volume_mismatch")
		}
	}

	if obs.structured.ABV != nil && item.record.ABV != nil {
		if math.Abs(*obs.structured.ABV-*item.record.ABV) <= abvTolerance {
			raw += weightABVMatch
			reasons.add("abv_match")
		} else {
			raw += weightABVMismatch
			reasons.add("abv_mismatch")
		}
	}

	if obs.structured.SugarFree != nil && item.record.SugarFree != nil {
		if *obs.structured.SugarFree == *item.record.SugarFree {
			raw += weightSugarMatch
			reasons.add("sugar_match")
		} else {
			raw += weightSugarMismatch
			reasons.add("sugar_mismatch")
		}
	}

	if raw <= 0 {
		return domain.RankedCandidate{}, false
	}

	confidence := clamp01(raw / s.tuning.ScoreSaturation)
	confidence = math.Round(confidence*10000) / 10000

	return domain.RankedCandidate{
		ProductID:   item.record.ProductID,
		Name:        item.record.DisplayName(),
		Brand:       item.record.Brand,
		ProductName: item.record.ProductName,
		Barcode:     item.record.Barcode,
		RawScore:    raw,
		Confidence:  confidence,
		Reasons:     reasons.values,
		Evidence:    evidence,
	}, true
}

// visualLabelSimilarity is the max detection confidence among visual labels
// whose text occurs in the product's searchable text.
func (s *MatchingService) visualLabelSimilarity(item *indexedProduct, obs observation) float64 {
	best := 0.0
	for label, score := range obs.visualScores {
		if score <= 0 || item.searchText == "" {
			continue
		}
		if strings.Contains(item.searchText, label) && score > best {
			best = score
		}
	}
	return best
}

// fuzzyOverlap is the graded-match primitive: a phrase found verbatim in the
// target blob scores 1.0; otherwise the fraction of its tokens present in the
// target token set, counted only when at least half match. Returns the best
// overlap across the phrase set and the phrases that hit.
func fuzzyOverlap(phrases []string, targetBlob string, targetTokens map[string]bool) (float64, []string) {
	best := 0.0
	var hits []string
	for _, phrase := range phrases {
		if phrase == "" {
			continue
		}
		overlap := 0.0
		if targetBlob != "" && strings.Contains(targetBlob, phrase) {
			overlap = 1.0
		} else {
			tokens := strings.Split(phrase, " ")
			matched := 0
			counted := 0
			for _, token := range tokens {
				if len(token) <= 1 {
					continue
				}
				counted++
				if targetTokens[token] {
					matched++
				}
			}
			if counted > 0 {
				ratio := float64(matched) / float64(counted)
				if ratio >= minFuzzyOverlap {
					overlap = ratio
				}
			}
		}
		if overlap > 0 {
			hits = append(hits, phrase)
		}
		if overlap > best {
			best = overlap
		}
	}
	return best, hits
}

// reasonList collects deduped evidence tags in insertion order.
type reasonList struct {
	values []string
	seen   map[string]bool
}

func newReasonList() *reasonList {
	return &reasonList{seen: make(map[string]bool)}
}

func (r *reasonList) add(tag string) {
	if r.seen[tag] {
		return
	}
	r.seen[tag] = true
	r.values = append(r.values, tag)
}

func normalizeBarcode(raw string) string {
	return strings.Join(strings.Fields(raw), "")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
