// Package storage keeps submitted files outside the database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound indicates the key does not exist in the store.
var ErrNotFound = errors.New("stored file not found")

// Store persists, retrieves and deletes submitted files by key.
type Store interface {
	Store(ctx context.Context, key string, reader io.Reader) (string, error)
	Retrieve(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// SubmissionKey builds a unique storage key for a file of a submission.
func SubmissionKey(submissionID uint, fileName string) string {
	return fmt.Sprintf("submissions/%d/%s-%s", submissionID, uuid.NewString(), sanitizeName(fileName))
}

func sanitizeName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	cleaned := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			return r
		}
		return '-'
	}, base)
	cleaned = strings.Trim(cleaned, "-.")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}
