package domain

import (
	"errors"
	"fmt"
)

// Coverage and sampling reasons. They are wrapped by the typed errors below
// and can be matched with errors.Is.
var (
	ErrEmptyCoverage      = errors.New("coverage is empty")
	ErrIncompleteCoverage = errors.New("coverage does not contain the requested area")
	ErrResolutionMismatch = errors.New("coverage resolution does not match the request")
	ErrOutsideRaster      = errors.New("point is outside raster coverage")
	ErrNoData             = errors.New("raster has no data at point")
)

// AcquisitionError reports a download or service failure. Retryable marks
// transient network failures.
type AcquisitionError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquisition %s: %v", e.Op, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// CoverageError reports a raster that does not cover the requested area.
// It is not retryable without widening the request.
type CoverageError struct {
	Reason    error
	Requested Bounds
	Available Bounds
	Detail    string
}

func (e *CoverageError) Error() string {
	msg := fmt.Sprintf("coverage: %v (requested %+v, available %+v)", e.Reason, e.Requested, e.Available)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *CoverageError) Unwrap() error { return e.Reason }

// SamplingError reports an elevation query that cannot be answered. It is
// fatal for the structure being aligned, never for the run.
type SamplingError struct {
	X, Y   float64
	Lon    float64
	Lat    float64
	Reason error
}

func (e *SamplingError) Error() string {
	return fmt.Sprintf("sample (%.2f, %.2f) lon=%.6f lat=%.6f: %v", e.X, e.Y, e.Lon, e.Lat, e.Reason)
}

func (e *SamplingError) Unwrap() error { return e.Reason }

// GeometryError reports a malformed footprint or feature.
type GeometryError struct {
	FeatureID string
	Reason    string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry %s: %s", e.FeatureID, e.Reason)
}

// PipelineStateError reports a stage invoked out of order.
type PipelineStateError struct {
	Stage Stage
	Want  Stage
}

func (e *PipelineStateError) Error() string {
	return fmt.Sprintf("pipeline stage %s invoked while in %s", e.Want, e.Stage)
}

// StageError wraps the error that aborted a run with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying at the run level.
func IsRetryable(err error) bool {
	var acq *AcquisitionError
	return errors.As(err, &acq) && acq.Retryable
}

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")
