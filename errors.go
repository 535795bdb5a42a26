package syncany

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrMissingReplicationId = errors.New("replication id is required")
	ErrInvalidBatchSize     = errors.New("batch size must be greater than 0")
	ErrMissingSink          = errors.New("sink function is required")
	ErrMissingCollaborator  = errors.New("source and checkpoint store are required")
	ErrCancelled            = errors.New("replication cancelled")
	ErrReplicationRunning   = errors.New("replication already running")
	ErrNotFound             = errors.New("replication not found")
)

// ConfigurationError is returned synchronously by StartSync before any
// collaborator is touched.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("syncany: invalid option %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

type ErrorKind string

const (
	ErrorKindCheckpointRead  ErrorKind = "checkpoint_read"
	ErrorKindFeed            ErrorKind = "feed"
	ErrorKindFetch           ErrorKind = "fetch"
	ErrorKindSink            ErrorKind = "sink"
	ErrorKindCheckpointWrite ErrorKind = "checkpoint_write"
)

// SyncError is the failure outcome of a run. Result is the snapshot at the
// moment the run aborted; Result.LastSequence is the last durable checkpoint.
type SyncError struct {
	Kind   ErrorKind
	Result Result
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("syncany: %s failed at seq %d: %v", e.Kind, e.Result.LastSequence, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsSinkFailure reports whether err aborted a run in the sink.
func IsSinkFailure(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Kind == ErrorKindSink
}
