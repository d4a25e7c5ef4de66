package pipeline

import (
	"errors"
	"fmt"

	"github.com/assetgen/api/internal/model"
)

// Error kinds. Every stage failure wraps exactly one of these.
var (
	ErrPresign       = errors.New("signed URL could not be issued")
	ErrUpload        = errors.New("upload failed")
	ErrAuth          = errors.New("render API authentication failed")
	ErrSubmit        = errors.New("render job submission failed")
	ErrPollTransport = errors.New("status check failed")
	ErrPollTimeout   = errors.New("render job did not finish in time")
	ErrJobFailed     = errors.New("render job failed")
	ErrValidation    = errors.New("invalid generation input")
	ErrCanceled      = errors.New("run canceled")
)

var errorKinds = []error{
	ErrCanceled,
	ErrValidation,
	ErrPresign,
	ErrUpload,
	ErrAuth,
	ErrSubmit,
	ErrPollTransport,
	ErrPollTimeout,
	ErrJobFailed,
}

// KindOf returns the error kind wrapped by err, or nil.
func KindOf(err error) error {
	for _, kind := range errorKinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// StageError tags a failure with the stage it halted.
type StageError struct {
	Stage model.Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage.Label(), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Code is a stable identifier for the error kind, used in API and websocket payloads.
func (e *StageError) Code() string {
	switch e.Kind {
	case ErrPresign:
		return "PRESIGN_ERROR"
	case ErrUpload:
		return "UPLOAD_ERROR"
	case ErrAuth:
		return "AUTH_ERROR"
	case ErrSubmit:
		return "SUBMIT_ERROR"
	case ErrPollTransport:
		return "POLL_TRANSPORT_ERROR"
	case ErrPollTimeout:
		return "POLL_TIMEOUT"
	case ErrJobFailed:
		return "JOB_FAILED"
	case ErrValidation:
		return "VALIDATION_ERROR"
	case ErrCanceled:
		return "CANCELED"
	default:
		return "PIPELINE_ERROR"
	}
}

// UploadError carries the HTTP outcome of a failed transfer.
type UploadError struct {
	FileName   string
	StatusCode int
	Body       string
	Err        error
}

func (e *UploadError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", ErrUpload, e.FileName, e.Err)
	default:
		return fmt.Sprintf("%v: %s: status %d: %s", ErrUpload, e.FileName, e.StatusCode, e.Body)
	}
}

func (e *UploadError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUpload, e.Err}
	}
	return []error{ErrUpload}
}
