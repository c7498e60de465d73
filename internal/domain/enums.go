package domain

// RunStatus is the overall result of a pipeline run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// FailureReason is the stable machine-checkable code of a terminal run failure.
type FailureReason string

const (
	ReasonNoTablesFound       FailureReason = "no_tables_found"
	ReasonNormalizationFailed FailureReason = "normalization_failed"
)

// ValidationSkipped is the marker reported in place of a validation report.
const ValidationSkipped = "skipped"

// Stage names tagged on inference calls.
const (
	StageNormalization = "normalization"
	StageValidation    = "validation"
)

// CSVColumns is the fixed column order of the persisted tabular artifact.
var CSVColumns = []string{"type", "article", "amount", "year"}

// TableErrorKind classifies why a table was skipped.
type TableErrorKind string

const (
	TableErrorQuota     TableErrorKind = "quota"
	TableErrorRateLimit TableErrorKind = "rate_limit"
	TableErrorParse     TableErrorKind = "parse"
	TableErrorProvider  TableErrorKind = "provider"
	TableErrorOther     TableErrorKind = "other"
)

// Remediation guidance attached to terminal failures.
const (
	GuidanceNoTables        = "No tables were detected in the document. Check that the file contains tabular data, or enable OCR for scanned pages."
	GuidanceQuotaExhausted  = "Every inference credential has reached its daily quota. Wait for the quota to reset (typically at midnight UTC) or add credentials."
	GuidanceRateLimited     = "Inference credentials were temporarily rate limited. Wait a minute and run again."
	GuidanceParseFailed     = "The model returned replies that could not be parsed as structured rows. Review the prompt logs for the affected tables."
	GuidanceProviderFailure = "The inference provider rejected the requests. Check credentials, model names and request limits."
	GuidanceNoRows          = "No table produced usable rows. Review the prompt logs and the extracted tables."
)
