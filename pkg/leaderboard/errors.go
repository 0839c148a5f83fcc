package leaderboard

import "errors"

// Caller-visible error taxonomy. Only ErrScopeNotFound, ErrInvalidScopeType,
// ErrInvalidGranularity and ErrParticipantNotFound surface to API callers;
// degraded-cache and superseded-build conditions are absorbed internally.
var (
	ErrScopeNotFound        = errors.New("scope not found")
	ErrInvalidScopeType     = errors.New("invalid scope type")
	ErrInvalidGranularity   = errors.New("invalid granularity")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrTransientUnavailable = errors.New("transient backend unavailability, retry advised")
)

// ErrorCode maps a domain error to its stable wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrScopeNotFound):
		return "SCOPE_NOT_FOUND"
	case errors.Is(err, ErrInvalidScopeType):
		return "INVALID_SCOPE_TYPE"
	case errors.Is(err, ErrInvalidGranularity):
		return "INVALID_GRANULARITY"
	case errors.Is(err, ErrParticipantNotFound):
		return "PARTICIPANT_NOT_FOUND"
	case errors.Is(err, ErrTransientUnavailable):
		return "TRANSIENT_UNAVAILABLE"
	}
	return "INTERNAL"
}
