package exerciseservice

import (
	"errors"
	"fmt"
)

// ErrFileTooLarge indicates a submitted file exceeds the exercise file size limit.
var ErrFileTooLarge = errors.New("submission file exceeds maximum size")

// ConnectionError reports that the exercise service could not be reached or did not answer in time.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("exercise service connection failed (%s): %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ServiceError reports that the exercise service answered with an error or a malformed payload.
type ServiceError struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("exercise service failed (%s, status %d): %s", e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("exercise service failed (%s): %s", e.URL, e.Message)
}

// FileTooLargeError names the offending file.
type FileTooLargeError struct {
	FieldName string
	Size      int64
	Limit     int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file %q is %d bytes, limit is %d", e.FieldName, e.Size, e.Limit)
}

func (e *FileTooLargeError) Is(target error) bool {
	return target == ErrFileTooLarge
}
