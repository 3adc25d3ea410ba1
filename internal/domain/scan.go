package domain

import "time"

// ScanContext captures where and how a scan was made.
type ScanContext struct {
	ScanMode        string `json:"scan_mode,omitempty"`
	DeviceInfo      string `json:"device_info,omitempty"`
	RotationDegrees *int   `json:"rotation_degrees,omitempty"`
}

// AnalysisSnapshot is the immutable summary of the matching pass, captured
// when the scan record is created.
type AnalysisSnapshot struct {
	PackagingType            string             `json:"packaging_type,omitempty"`
	OCRStrategy              string             `json:"ocr_strategy,omitempty"`
	TopMatchConfidence       *float64           `json:"top_match_confidence,omitempty"`
	TopMatchMargin           *float64           `json:"top_match_margin,omitempty"`
	TopMatchAccepted         *bool              `json:"top_match_accepted,omitempty"`
	PackageDetectionStrategy string             `json:"package_detection_strategy,omitempty"`
	DetectedLabels           []string           `json:"detected_labels,omitempty"`
	PackagingScores          map[string]float64 `json:"packaging_scores,omitempty"`
	StructuredOCRFields      StructuredFields   `json:"structured_ocr_fields"`
	CandidateCount           int                `json:"candidate_count"`
	DetectionCount           int                `json:"detection_count"`
	TextDetectionCount       int                `json:"text_detection_count"`
	NonFoodFilteredCount     int                `json:"non_food_filtered_count"`
}

// FeedbackContext carries client-side capture telemetry supplied alongside
// user feedback. All fields are optional.
type FeedbackContext struct {
	ImageHash               string   `json:"image_hash,omitempty"`
	ScanSessionID           string   `json:"scan_session_id,omitempty"`
	ResolverChosenItemID    string   `json:"resolver_chosen_item_id,omitempty"`
	ResolverChosenScore     *float64 `json:"resolver_chosen_score,omitempty"`
	UserFinalItemID         string   `json:"user_final_item_id,omitempty"`
	TimeToFirstCandidateMS  *float64 `json:"time_to_first_candidate_ms,omitempty"`
	OCRTextCharCount        *float64 `json:"ocr_text_char_count,omitempty"`
	OCRBestLineScore        *float64 `json:"ocr_best_line_score,omitempty"`
	FrontVisibilityScore    *float64 `json:"front_visibility_score,omitempty"`
	SelectedFrameQuality    *float64 `json:"selected_frame_quality,omitempty"`
	SelectedFrameSharpness  *float64 `json:"selected_frame_sharpness,omitempty"`
	SelectedFrameGlare      *float64 `json:"selected_frame_glare,omitempty"`
	SelectedFrameBrightness *float64 `json:"selected_frame_brightness,omitempty"`
	PackagingType           string   `json:"packaging_type,omitempty"`
	TopMatchConfidence      *float64 `json:"top_match_confidence,omitempty"`
	TopMatchMargin          *float64 `json:"top_match_margin,omitempty"`
	OCRStrategy             string   `json:"ocr_strategy,omitempty"`
	ShouldPromptRetake      *bool    `json:"should_prompt_retake,omitempty"`
	HadCorrectionTap        *bool    `json:"had_correction_tap,omitempty"`
}

// DataQuality is re-derived from the current record state on every feedback
// update; it is a pure function of the record.
type DataQuality struct {
	PackagingType        string          `json:"packaging_type,omitempty"`
	FrameQuality         *float64        `json:"frame_quality,omitempty"`
	FrameSharpness       *float64        `json:"frame_sharpness,omitempty"`
	FrameGlare           *float64        `json:"frame_glare,omitempty"`
	FrameBrightness      *float64        `json:"frame_brightness,omitempty"`
	FrontVisibilityScore *float64        `json:"front_visibility_score,omitempty"`
	OCRTextCharCount     *float64        `json:"ocr_text_char_count,omitempty"`
	OCRBestLineScore     *float64        `json:"ocr_best_line_score,omitempty"`
	TopMatchMargin       *float64        `json:"top_match_margin,omitempty"`
	ConditionFlags       map[string]bool `json:"condition_flags"`
	QualityBucket        string          `json:"quality_bucket"`
}

// ActiveLearning scores how valuable this scan is for human review and
// training-data curation.
type ActiveLearning struct {
	Candidate bool     `json:"candidate"`
	Score     int      `json:"score"`
	Reasons   []string `json:"reasons,omitempty"`
	DomainKey string   `json:"domain_key"`
}

// ScanRecord is the persisted per-scan document. The capture snapshot is
// immutable after creation; feedback fields mutate and derived fields are
// recomputed in full on every update.
type ScanRecord struct {
	ScanLogID string `json:"scan_log_id"`

	ImagePath               string `json:"image_path"`
	RawImagePath            string `json:"raw_image_path"`
	CroppedPackageImagePath string `json:"cropped_package_image_path,omitempty"`

	Detections          []Detection       `json:"detections"`
	OCR                 []string          `json:"ocr"`
	OCROutput           []TextDetection   `json:"ocr_output"`
	Barcode             string            `json:"barcode,omitempty"`
	PredictedProduct    string            `json:"predicted_product,omitempty"`
	PredictedCandidates []RankedCandidate `json:"predicted_candidates"`
	Analysis            AnalysisSnapshot  `json:"analysis"`

	UserConfirmed       *bool            `json:"user_confirmed,omitempty"`
	UserCorrectedTo     string           `json:"user_corrected_to,omitempty"`
	UserAcceptedProduct string           `json:"user_accepted_product,omitempty"`
	NotFood             bool             `json:"not_food"`
	BadPhoto            bool             `json:"bad_photo"`
	FeedbackNotes       string           `json:"feedback_notes,omitempty"`
	FeedbackContext     *FeedbackContext `json:"feedback_context,omitempty"`

	DataQuality      *DataQuality   `json:"data_quality,omitempty"`
	FailureTags      []string       `json:"failure_tags,omitempty"`
	TrainingPriority string         `json:"training_priority,omitempty"`
	ActiveLearning   ActiveLearning `json:"active_learning"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RequestID string      `json:"request_id,omitempty"`
	Model     string      `json:"model,omitempty"`
	LatencyMS *int64      `json:"latency_ms,omitempty"`
	Context   ScanContext `json:"context"`
}

// FeedbackUpdate is a partial update to a scan record. Only non-nil fields
// are applied; absent fields keep their prior value.
type FeedbackUpdate struct {
	Confirmed   *bool
	CorrectedTo *string
	NotFood     *bool
	BadPhoto    *bool
	Notes       *string
	Context     *FeedbackContext
}
