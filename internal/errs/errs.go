// Package errs holds the error kinds returned by indicator computations.
// Callers match them with errors.As.
package errs

import (
	"fmt"
	"strings"
)

// VectorResolutionError is returned when an area of interest cannot be
// resolved or fails validation against its parent boundary.
type VectorResolutionError struct {
	Reason string
	Err    error
}

func (e *VectorResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vector resolution failed: %s: %v", e.Reason, e.Err)
	}
	return "vector resolution failed: " + e.Reason
}

func (e *VectorResolutionError) Unwrap() error { return e.Err }

// InsufficientDataError reports that fewer periods were available than the
// algorithm needs.
type InsufficientDataError struct {
	Indicator string
	Required  int
	Available int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s requires at least %d periods, found %d", e.Indicator, e.Required, e.Available)
}

type MissingRasterError struct {
	Category string
	Source   string
	Year     int
}

func (e *MissingRasterError) Error() string {
	var b strings.Builder
	b.WriteString("no raster found for category " + e.Category)
	if e.Source != "" {
		b.WriteString(", source " + e.Source)
	}
	if e.Year != 0 {
		fmt.Fprintf(&b, ", year %d", e.Year)
	}
	return b.String()
}

// DuplicateInputError is returned when a filter that must match a single
// raster matches several.
type DuplicateInputError struct {
	Category string
	Year     int
	Matches  []string
}

func (e *DuplicateInputError) Error() string {
	return fmt.Sprintf("%d rasters match category %s year %d: %s", len(e.Matches), e.Category, e.Year, strings.Join(e.Matches, ", "))
}

type ParameterValidationError struct {
	Field  string
	Reason string
}

func (e *ParameterValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

// AlignmentError is returned when a raster cannot be brought onto the
// reference grid.
type AlignmentError struct {
	Path string
	Err  error
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("failed to align %s: %v", e.Path, e.Err)
}

func (e *AlignmentError) Unwrap() error { return e.Err }
