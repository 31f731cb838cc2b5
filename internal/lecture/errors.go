package lecture

import "errors"

// Error kinds for the lecture core. Operations wrap one of these so the
// transport layer can map failures to stable response codes without
// inspecting messages.
var (
	// ErrNotFound reports an absent lecture or slide.
	ErrNotFound = errors.New("not found")

	// ErrValidation reports an invalid request detected before any
	// external call: missing fields, out-of-range slide numbers, answers
	// without a pending question.
	ErrValidation = errors.New("invalid request")

	// ErrGeneration reports a failed or malformed model generation call.
	// Nothing is persisted when it occurs.
	ErrGeneration = errors.New("generation failed")

	// ErrSynthesis reports a voice engine failure. No partial audio is
	// left behind when it occurs.
	ErrSynthesis = errors.New("synthesis failed")

	// ErrStorage reports a persistence or filesystem failure.
	ErrStorage = errors.New("storage failed")
)
