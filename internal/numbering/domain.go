package numbering

import (
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Sequence is a named monotonic counter used to mint identifiers.
type Sequence struct {
	Name         string
	CurrentValue int64
	IncrementBy  int64
}

// NextValue returns the value the next allocation of this counter yields.
func (s Sequence) NextValue() int64 {
	inc := s.IncrementBy
	if inc <= 0 {
		inc = 1
	}
	return s.CurrentValue + inc
}

// DocumentNumberConfig drives human-readable number generation per
// document type.
type DocumentNumberConfig struct {
	DocumentType string
	Prefix       string
	Suffix       string
	NextNumber   int64
	PaddingWidth int
	IsActive     bool
}

// Format renders the current next_number without advancing it.
func (c DocumentNumberConfig) Format() string {
	return fmt.Sprintf("%s%0*d%s", c.Prefix, c.PaddingWidth, c.NextNumber, c.Suffix)
}

// Target names the authoritative table/column holding committed numbers for
// a document type, used for defensive duplicate checks.
type Target struct {
	Table  string
	Column string
}

var (
	// ErrSequenceNotFound indicates an unregistered counter name.
	ErrSequenceNotFound = shared.NotFoundf("sequence not found")
	// ErrConfigNotFound indicates no active number config for the type.
	ErrConfigNotFound = shared.NotFoundf("document number config not found")
	// ErrDuplicateNumber indicates the generated or supplied number already
	// exists among committed documents.
	ErrDuplicateNumber = shared.Conflictf("document number already exists")
	// ErrTrackingUnavailable indicates the schema has no tracking table, so
	// year-scoped allocation cannot run.
	ErrTrackingUnavailable = shared.Conflictf("document number tracking is not available")
)
