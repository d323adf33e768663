// Package artifact implements the durable artifact registry: the single
// source of truth for what each step produced, whether it passed
// validation, and which versions exist.
//
// Workers never mutate registry entries. They produce content; the
// orchestration core validates it and registers the result here. An
// artifact whose latest validation did not pass is never handed to a
// downstream step.
package artifact

import (
	"errors"
	"fmt"
	"time"
)

// Registry errors.
var (
	ErrUnvalidated       = errors.New("artifact validation status is still pending")
	ErrArtifactInvalid   = errors.New("artifact exists but failed validation")
	ErrInvalidName       = errors.New("invalid artifact name")
	ErrRegistryCorrupted = errors.New("registry file corrupted")
)

// MissingArtifactError distinguishes "not yet produced" from "produced but
// invalid". Lookups fail loudly with it rather than returning a default.
type MissingArtifactError struct {
	Name string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("artifact %q not found in registry", e.Name)
}

// IsMissing reports whether err is a MissingArtifactError.
func IsMissing(err error) bool {
	var m *MissingArtifactError
	return errors.As(err, &m)
}

// ValidationStatus is the gate outcome recorded on an artifact.
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationPass    ValidationStatus = "pass"
	ValidationFail    ValidationStatus = "fail"
)

// Artifact is one registry record. Records are append-only in effect:
// re-registering identical content is a no-op, differing content bumps
// Version, and nothing ever silently overwrites.
type Artifact struct {
	Name             string           `json:"name"`
	ProducingStep    string           `json:"producing_step"`
	Path             string           `json:"path"`
	Content          string           `json:"content,omitempty"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	Version          int              `json:"version"`
	Dependencies     []string         `json:"dependencies,omitempty"`
	Checksum         string           `json:"checksum"`
	CreatedAt        time.Time        `json:"created_at"`
}

// DiscrepancyKind classifies an integrity mismatch between the registry
// and its backing store.
type DiscrepancyKind string

const (
	DiscrepancyMissingContent    DiscrepancyKind = "missing_content"
	DiscrepancyOrphanContent     DiscrepancyKind = "orphan_content"
	DiscrepancyChecksumMismatch  DiscrepancyKind = "checksum_mismatch"
	DiscrepancyMissingDependency DiscrepancyKind = "missing_dependency"
)

// Discrepancy is one finding from VerifyIntegrity.
type Discrepancy struct {
	Artifact string          `json:"artifact"`
	Kind     DiscrepancyKind `json:"kind"`
	Detail   string          `json:"detail"`
}
