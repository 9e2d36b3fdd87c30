package storage

import (
	"errors"
	"fmt"
)

// ErrVersionTooNew is returned when the database was written by a newer schema.
var ErrVersionTooNew = errors.New("database schema version is newer than supported")

// StorageError 存储写路径错误，带操作名和会话 ID
// StorageError wraps a write-path failure with the operation and session id
type StorageError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
