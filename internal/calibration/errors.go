package calibration

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientPoints: fewer filtered points than a quadratic needs.
	ErrInsufficientPoints = errors.New("insufficient points for quadratic fit")
	// ErrDegenerateData: no usable variance in the included points.
	ErrDegenerateData = errors.New("degenerate data")
	// ErrInvalidSign: curvature does not match downward gravitational acceleration.
	ErrInvalidSign = errors.New("curvature does not match gravity convention")
	// ErrPrecondition: apply attempted while the global scale is stale or empty.
	ErrPrecondition = errors.New("precondition failed")
	ErrUnknownTrack    = errors.New("unknown track")
	ErrInvalidSettings = errors.New("invalid fit settings")
	// ErrNotValid: use-for-global requested on a track without a valid fit.
	ErrNotValid = errors.New("track has no valid fit")
)

// FitErrorKind classifies fit failures.
type FitErrorKind string

const (
	KindInsufficientPoints FitErrorKind = "insufficient_points"
	KindDegenerateData     FitErrorKind = "degenerate_data"
	KindInvalidSign        FitErrorKind = "invalid_sign"
)

// FitError reports why a fit did not produce a usable scale.
type FitError struct {
	Kind     FitErrorKind
	TrackID  TrackID
	Included int
	Detail   string
}

func (e *FitError) Error() string {
	msg := fmt.Sprintf("fit track %d: %v", e.TrackID, e.Unwrap())
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap maps the kind onto its sentinel so callers can use errors.Is.
func (e *FitError) Unwrap() error {
	switch e.Kind {
	case KindInsufficientPoints:
		return ErrInsufficientPoints
	case KindDegenerateData:
		return ErrDegenerateData
	case KindInvalidSign:
		return ErrInvalidSign
	default:
		return nil
	}
}

// PreconditionError is returned when applying the global scale is not allowed.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%v: %s", ErrPrecondition, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }
