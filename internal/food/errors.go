package food

import "errors"

var (
	// ErrRecognitionFailed means the recognizer returned no usable or parseable output.
	ErrRecognitionFailed = errors.New("recognition failed")
	// ErrNoIngredients means recognition succeeded but identified nothing.
	ErrNoIngredients = errors.New("could not identify ingredients")
	// ErrDraftNotFound means the draft expired, was committed or was cancelled.
	ErrDraftNotFound = errors.New("analysis not found")
	// ErrCommitConflict means persisting the entry failed; the draft is kept for retry.
	ErrCommitConflict = errors.New("commit failed")
	// ErrCatalogUnavailable marks transient catalog failures.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrInvalidMealSlot    = errors.New("invalid meal slot")
)
