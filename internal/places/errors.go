package places

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicatePlace indicates the candidate matches an already saved place.
	ErrDuplicatePlace = errors.New("places: location is already saved")
	// ErrPlaceNotFound indicates that no place has the requested identifier.
	ErrPlaceNotFound = errors.New("places: place not found")
	// ErrMemoryNotFound indicates that the place has no memory with the requested identifier.
	ErrMemoryNotFound = errors.New("places: memory not found")
	// ErrInvalidCandidate indicates that a geocoder candidate failed validation.
	ErrInvalidCandidate = errors.New("places: invalid candidate")
	// ErrInvalidMemory indicates that a memory payload failed validation.
	ErrInvalidMemory = errors.New("places: invalid memory")
	// ErrInvalidRequest indicates that an access request failed validation.
	ErrInvalidRequest = errors.New("places: invalid access request")
	// ErrInvalidUserKey indicates that a user key is empty or exceeds storage bounds.
	ErrInvalidUserKey = errors.New("places: invalid user key")
	// ErrStorageUnavailable indicates that the durable store could not be opened or read.
	ErrStorageUnavailable = errors.New("places: storage unavailable")
	// ErrStorageWriteError indicates that a snapshot could not be written.
	ErrStorageWriteError = errors.New("places: storage write failed")
	// ErrRemoteFetchFailed indicates that the shared items feed could not be fetched.
	ErrRemoteFetchFailed = errors.New("places: remote fetch failed")

	errMissingConfirmer = errors.New("confirmer is required for destructive operations")
	errMissingCodec     = errors.New("archive codec is required")
)

// ServiceError carries a stable operation/reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew      = "places.store.new"
	opActivate      = "places.activate"
	opFlush         = "places.flush"
	opRemovePlace   = "places.remove_place"
	opRemoveMemory  = "places.remove_memory"
	opClearAll      = "places.clear_all"
	opExportBackup  = "places.export_backup"
	opImportBackup  = "places.import_backup"
	opFetchShared   = "places.fetch_shared"
	opScheduledSave = "places.scheduled_save"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
