package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrChallengeNotFound is returned for unknown challenge ids.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrParticipantNotFound is returned when an identity acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in challenge")
	// ErrForbidden covers visibility and state violations.
	ErrForbidden = errors.New("challenge is not open")
	// ErrCapacityReached means every participant slot is taken.
	ErrCapacityReached = errors.New("the number of participants for this challenge has been reached")
	// ErrAlreadyJoined means the identity already holds a slot.
	ErrAlreadyJoined = errors.New("you have already participated in this challenge")
	// ErrAlreadySubmitted means the participant's result is already recorded.
	ErrAlreadySubmitted = errors.New("answers already submitted")
	// ErrPersistence wraps storage failures.
	ErrPersistence = errors.New("persistence error")
	// ErrInvalidRequest rejects malformed create parameters.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidUpdate rejects updates that would break challenge invariants.
	ErrInvalidUpdate = errors.New("invalid update")
	// ErrDuplicateID signals an id collision inside a store.
	ErrDuplicateID = errors.New("duplicate challenge id")
)

// NormalizationReason classifies why a content source could not be normalized.
type NormalizationReason string

const (
	UnreadableDocument    NormalizationReason = "unreadable_document"
	UnreachableSource     NormalizationReason = "unreachable_source"
	InsufficientContent   NormalizationReason = "insufficient_content"
	ContentTooLarge       NormalizationReason = "content_too_large"
	InvalidReference      NormalizationReason = "invalid_reference"
	MetadataUnavailable   NormalizationReason = "metadata_unavailable"
	TranscriptUnavailable NormalizationReason = "transcript_unavailable"
)

var reasonMessages = map[NormalizationReason]string{
	UnreadableDocument:    "Could not read any text from the uploaded document.",
	UnreachableSource:     "Failed to extract content from the provided source.",
	InsufficientContent:   "Could not extract sufficient content from the provided source.",
	ContentTooLarge:       "The provided content is too large.",
	InvalidReference:      "Invalid video reference. Please provide a valid YouTube video URL.",
	MetadataUnavailable:   "Could not fetch video details. Please check if the video exists.",
	TranscriptUnavailable: "Could not extract transcript from the video.",
}

// NormalizationError reports an unusable content source.
type NormalizationError struct {
	Reason NormalizationReason
	Source SourceKind
	Err    error
}

func NewNormalizationError(source SourceKind, reason NormalizationReason, err error) *NormalizationError {
	return &NormalizationError{Reason: reason, Source: source, Err: err}
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("normalize %s: %s", e.Source, e.Reason)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// UserMessage is the reason shown to the creator.
func (e *NormalizationError) UserMessage() string {
	if msg, ok := reasonMessages[e.Reason]; ok {
		return msg
	}
	return "The provided content could not be used."
}

// IsNormalization reports whether err carries a NormalizationError and returns it.
func IsNormalization(err error) (*NormalizationError, bool) {
	var nerr *NormalizationError
	if errors.As(err, &nerr) {
		return nerr, true
	}
	return nil, false
}
