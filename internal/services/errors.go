package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks input that violates an invariant.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks unusable configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks a missing entity or row.
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks an external call that exceeded its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrTransient marks retryable failures such as network errors.
	ErrTransient = errors.New("transient failure")
	// ErrIntegrity marks schema-integrity violations such as dangling
	// references. These abort the whole run.
	ErrIntegrity = errors.New("integrity violation")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Fatal reports whether an error must abort the whole ingestion run rather
// than just the entity it occurred on.
func Fatal(err error) bool {
	return errors.Is(err, ErrIntegrity) || errors.Is(err, ErrConfiguration)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
