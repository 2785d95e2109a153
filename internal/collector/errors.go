package collector

import "errors"

// Run-level failure kinds. Each maps to a distinct caller decision:
// reschedule, treat as empty, alert, or page.
var (
	// ErrDoneCollecting means the configured history is fully collected;
	// collection runs are a no-op forever after.
	ErrDoneCollecting = errors.New("collection already complete")

	// ErrNoRemainingQuota means no credential has usable budget today.
	ErrNoRemainingQuota = errors.New("no remaining request quota")

	// ErrNoHealthyResponses means every sub-range in the run failed.
	ErrNoHealthyResponses = errors.New("no healthy responses in run")

	// ErrStorageUnavailable means the durable store cannot be reached;
	// raised before any fetching begins.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidDate means a malformed date string reached the state
	// machine. Input-validation failure, never coerced.
	ErrInvalidDate = errors.New("invalid date")
)

// Statuses recorded in the runs table.
const (
	StatusUploadDataSuccess = "upload_data_success"
	StatusPipelineSuccess   = "pipeline_success"
	StatusPipelineFail      = "pipeline_fail"
	StatusCollectionDone    = "dataset_collection_complete"
	StatusCollectionPartial = "dataset_collection_incomplete"
)
