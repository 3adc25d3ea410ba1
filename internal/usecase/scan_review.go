package usecase

import (
	"regexp"
	"sort"
	"strings"

	"github.com/foodscan/backend/internal/domain"
)

// Derivation thresholds. These mirror the capture-quality gates used by the
// scanning client.
const (
	blurSharpnessBelow   = 0.28
	glareAbove           = 0.62
	lowLightBelow        = 0.3
	lowVisibilityBelow   = 0.46
	weakOCRCharsBelow    = 8
	weakOCRLineBelow     = 0.55
	ambiguousMarginBelow = 0.08

	activeLearnLowConfidenceBelow = 0.72
	activeLearnMarginBelow        = 0.1
)

// packagedTypes are the packaging tags for which label visibility matters.
var packagedTypes = map[string]bool{
	"can": true, "bottle": true, "carton": true, "wrapper": true, "pouch": true,
}

// shelfTagTokens flag OCR text that reads like a shelf price tag rather than
// the product label (currency markers, promo wording, multibuy offers).
var (
	shelfTagTokens     = []string{" kr", "nok", "tilbud", "save", "%"}
	multibuyOfferRegex = regexp.MustCompile(`\b\d+ for\b`)
)

// applyDerivations recomputes every derived field from the current record
// state, in order: data_quality, failure_tags, training_priority,
// active_learning. Pure: identical input state yields identical output.
func applyDerivations(rec *domain.ScanRecord) {
	rec.DataQuality = deriveDataQuality(rec)
	rec.FailureTags = deriveFailureTags(rec)
	rec.TrainingPriority = deriveTrainingPriority(rec.FailureTags)
	rec.ActiveLearning = deriveActiveLearning(rec)
}

func deriveDataQuality(rec *domain.ScanRecord) *domain.DataQuality {
	fc := rec.FeedbackContext
	if fc == nil {
		fc = &domain.FeedbackContext{}
	}

	packagingType := fc.PackagingType
	if packagingType == "" {
		packagingType = rec.Analysis.PackagingType
	}
	topMargin := fc.TopMatchMargin
	if topMargin == nil {
		topMargin = rec.Analysis.TopMatchMargin
	}

	packaged := packagedTypes[strings.ToLower(packagingType)]
	flags := map[string]bool{
		"blur":      fc.SelectedFrameSharpness != nil && *fc.SelectedFrameSharpness < blurSharpnessBelow,
		"glare":     fc.SelectedFrameGlare != nil && *fc.SelectedFrameGlare > glareAbove,
		"low_light": fc.SelectedFrameBrightness != nil && *fc.SelectedFrameBrightness < lowLightBelow,
		"low_label_visibility": packaged &&
			fc.FrontVisibilityScore != nil && *fc.FrontVisibilityScore < lowVisibilityBelow,
		"weak_ocr": (fc.OCRTextCharCount != nil && *fc.OCRTextCharCount < weakOCRCharsBelow) ||
			(fc.OCRBestLineScore != nil && *fc.OCRBestLineScore < weakOCRLineBelow),
		"ambiguous_match": topMargin != nil && *topMargin < ambiguousMarginBelow,
	}

	issueCount := 0
	for _, value := range flags {
		if value {
			issueCount++
		}
	}
	bucket := "high"
	if issueCount >= 3 || rec.BadPhoto {
		bucket = "low"
	} else if issueCount >= 1 {
		bucket = "medium"
	}

	return &domain.DataQuality{
		PackagingType:        packagingType,
		FrameQuality:         fc.SelectedFrameQuality,
		FrameSharpness:       fc.SelectedFrameSharpness,
		FrameGlare:           fc.SelectedFrameGlare,
		FrameBrightness:      fc.SelectedFrameBrightness,
		FrontVisibilityScore: fc.FrontVisibilityScore,
		OCRTextCharCount:     fc.OCRTextCharCount,
		OCRBestLineScore:     fc.OCRBestLineScore,
		TopMatchMargin:       topMargin,
		ConditionFlags:       flags,
		QualityBucket:        bucket,
	}
}

func deriveFailureTags(rec *domain.ScanRecord) []string {
	tags := make(map[string]bool)

	var flags map[string]bool
	if rec.DataQuality != nil {
		flags = rec.DataQuality.ConditionFlags
	}

	predicted := strings.TrimSpace(rec.PredictedProduct)
	corrected := strings.TrimSpace(rec.UserCorrectedTo)

	if rec.NotFood {
		tags["hard_negative_non_food"] = true
	}
	if rec.BadPhoto {
		tags["bad_photo"] = true
	}
	if predicted != "" && corrected != "" && !strings.EqualFold(predicted, corrected) {
		tags["wrong_product_match"] = true
	}
	if rec.UserConfirmed != nil && !*rec.UserConfirmed && corrected == "" && !rec.NotFood {
		tags["unresolved_prediction"] = true
	}
	if rec.FeedbackContext != nil && rec.FeedbackContext.ShouldPromptRetake != nil && *rec.FeedbackContext.ShouldPromptRetake {
		tags["quality_gate_triggered"] = true
	}
	if flags["blur"] {
		tags["motion_or_focus_blur"] = true
	}
	if flags["glare"] {
		tags["specular_glare"] = true
	}
	if flags["low_light"] {
		tags["low_light"] = true
	}
	if flags["low_label_visibility"] {
		tags["low_label_visibility"] = true
	}
	if flags["weak_ocr"] {
		tags["weak_ocr"] = true
	}
	if flags["ambiguous_match"] {
		tags["close_tie"] = true
	}
	if rec.Analysis.NonFoodFilteredCount > 0 {
		tags["non_food_confuser_seen"] = true
	}
	if hasShelfTagNoise(rec) {
		tags["shelf_tag_noise"] = true
	}

	sorted := make([]string, 0, len(tags))
	for tag := range tags {
		sorted = append(sorted, tag)
	}
	sort.Strings(sorted)
	return sorted
}

func hasShelfTagNoise(rec *domain.ScanRecord) bool {
	var parts []string
	for _, row := range rec.OCROutput {
		if text := strings.TrimSpace(row.Text); text != "" {
			parts = append(parts, strings.ToLower(text))
		}
	}
	if len(parts) == 0 {
		for _, line := range rec.OCR {
			if text := strings.TrimSpace(line); text != "" {
				parts = append(parts, strings.ToLower(text))
			}
		}
	}
	blob := strings.Join(parts, " ")
	if blob == "" {
		return false
	}
	for _, token := range shelfTagTokens {
		if strings.Contains(blob, token) {
			return true
		}
	}
	return multibuyOfferRegex.MatchString(blob)
}

func deriveTrainingPriority(failureTags []string) string {
	hasHigh := false
	for _, tag := range failureTags {
		if tag == "hard_negative_non_food" || tag == "wrong_product_match" {
			hasHigh = true
			break
		}
	}
	if hasHigh {
		return "high"
	}
	if len(failureTags) > 0 {
		return "medium"
	}
	return "low"
}

func deriveActiveLearning(rec *domain.ScanRecord) domain.ActiveLearning {
	reasons := newReasonList()
	score := 0

	topConf := rec.Analysis.TopMatchConfidence
	topMargin := rec.Analysis.TopMatchMargin

	if topConf == nil || *topConf < activeLearnLowConfidenceBelow {
		reasons.add("low_confidence")
		score += 3
	}
	if topMargin == nil || *topMargin < activeLearnMarginBelow {
		reasons.add("candidate_disagreement")
		score += 3
	}
	if strings.TrimSpace(rec.PredictedProduct) == "" {
		reasons.add("open_set_or_unknown")
		score += 2
	}
	if (rec.UserConfirmed != nil && !*rec.UserConfirmed) || strings.TrimSpace(rec.UserCorrectedTo) != "" || rec.NotFood {
		reasons.add("user_disagreed")
		score += 4
	}
	if rec.DataQuality != nil && rec.DataQuality.QualityBucket == "low" {
		reasons.add("poor_capture_quality")
		score += 2
	}
	for _, tag := range rec.FailureTags {
		switch tag {
		case "hard_negative_non_food":
			reasons.add("hard_negative_non_food")
			score += 5
		case "wrong_product_match":
			reasons.add("wrong_product_match")
			score += 5
		case "shelf_tag_noise":
			reasons.add("ignore_region_noise")
			score += 2
		}
	}

	return domain.ActiveLearning{
		Candidate: len(reasons.values) > 0,
		Score:     score,
		Reasons:   reasons.values,
		DomainKey: deriveDomainKey(rec.Context),
	}
}

// deriveDomainKey buckets the scan into "{scan_mode}:{platform}:{browser}"
// from a pipe-delimited device string ("platform|user agent"). Used to
// stratify training-sample selection across capture conditions.
func deriveDomainKey(ctx domain.ScanContext) string {
	scanMode := strings.ToLower(strings.TrimSpace(ctx.ScanMode))
	if scanMode == "" {
		scanMode = "unknown"
	}

	var parts []string
	for _, part := range strings.Split(ctx.DeviceInfo, "|") {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	rawPlatform := ""
	agent := ""
	if len(parts) > 0 {
		rawPlatform = parts[0]
	}
	if len(parts) > 1 {
		agent = parts[1]
	}

	platform := "unknown"
	switch {
	case strings.Contains(agent, "iphone") || strings.Contains(agent, "ios"):
		platform = "ios"
	case strings.Contains(agent, "android"):
		platform = "android"
	case strings.Contains(rawPlatform, "win"):
		platform = "windows"
	case strings.Contains(rawPlatform, "mac"):
		platform = "mac"
	}

	browser := "unknown"
	switch {
	case strings.Contains(agent, "chrome") || strings.Contains(agent, "crios"):
		browser = "chrome"
	case strings.Contains(agent, "safari"):
		browser = "safari"
	case strings.Contains(agent, "firefox"):
		browser = "firefox"
	case strings.Contains(agent, "edg"):
		browser = "edge"
	}

	return scanMode + ":" + platform + ":" + browser
}
