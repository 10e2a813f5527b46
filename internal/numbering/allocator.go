package numbering

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Allocator issues sequence values and document numbers. Every method takes
// the caller's Querier so allocation joins the surrounding transaction; the
// row lock taken here is released at that transaction's commit.
type Allocator struct {
	targets  map[string]Target
	tracking bool
}

// NewAllocator constructs an Allocator with the given duplicate-check
// targets keyed by document type. tracking enables year-scoped allocation
// through the tracking table; pass false when the schema lacks it.
func NewAllocator(targets map[string]Target, tracking bool) *Allocator {
	if targets == nil {
		targets = map[string]Target{}
	}
	return &Allocator{targets: targets, tracking: tracking}
}

// Next allocates the next value for the named counter. The counter row is
// read under FOR UPDATE so concurrent callers on the same name serialize;
// reading without the lock risks issuing a duplicate to a racing caller.
func (a *Allocator) Next(ctx context.Context, q db.Querier, name string) (int64, error) {
	var seq Sequence
	seq.Name = name
	err := q.QueryRow(ctx,
		`SELECT current_value, increment_by FROM sequences WHERE name = $1 FOR UPDATE`,
		name).Scan(&seq.CurrentValue, &seq.IncrementBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrSequenceNotFound
		}
		return 0, shared.MapPgError(err, "sequence "+name)
	}
	next := seq.NextValue()
	if _, err := q.Exec(ctx,
		`UPDATE sequences SET current_value = $1 WHERE name = $2`, next, name); err != nil {
		return 0, shared.MapPgError(err, "sequence "+name)
	}
	return next, nil
}

// Generate formats the next document number for an active config and
// advances next_number exactly once. Callers that already hold an external
// number skip this entirely; the config is then not advanced.
func (a *Allocator) Generate(ctx context.Context, q db.Querier, docType string) (string, error) {
	var cfg DocumentNumberConfig
	cfg.DocumentType = docType
	err := q.QueryRow(ctx,
		`SELECT prefix, suffix, next_number, padding_width FROM document_number_configs
WHERE document_type = $1 AND is_active FOR UPDATE`,
		docType).Scan(&cfg.Prefix, &cfg.Suffix, &cfg.NextNumber, &cfg.PaddingWidth)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrConfigNotFound
		}
		return "", shared.MapPgError(err, "document number config "+docType)
	}
	number := cfg.Format()
	if _, err := q.Exec(ctx,
		`UPDATE document_number_configs SET next_number = next_number + 1 WHERE document_type = $1 AND is_active`,
		docType); err != nil {
		return "", shared.MapPgError(err, "document number config "+docType)
	}
	if err := a.EnsureUnique(ctx, q, docType, number); err != nil {
		return "", err
	}
	return number, nil
}

// EnsureUnique defensively checks the number against committed documents of
// the type. Allocation should prevent duplicates; a collision here means a
// caller supplied a number already in use.
func (a *Allocator) EnsureUnique(ctx context.Context, q db.Querier, docType, number string) error {
	target, ok := a.targets[docType]
	if !ok {
		return nil
	}
	var exists bool
	err := q.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)`, target.Table, target.Column),
		number).Scan(&exists)
	if err != nil {
		return shared.MapPgError(err, "document number "+number)
	}
	if exists {
		return ErrDuplicateNumber
	}
	return nil
}

var trailingDigits = regexp.MustCompile(`([0-9]+)$`)

// numericSuffix extracts the trailing counter from a tracked number.
func numericSuffix(number string) int64 {
	m := trailingDigits.FindStringSubmatch(number)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// trackedNumber renders a year-scoped number for the given counter value.
func trackedNumber(docType string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%04d", docType, year, n)
}

// AllocateTracked computes the next unused number for a year-scoped prefix
// by scanning both the authoritative table and the tracking table, then
// inserts the choice into the tracking table in the same transaction. A
// unique violation at insert time means a concurrent allocation won the
// race; the whole allocation is retried by the caller, not here.
func (a *Allocator) AllocateTracked(ctx context.Context, q db.Querier, docType string, year int) (string, error) {
	if !a.tracking {
		return "", ErrTrackingUnavailable
	}
	prefix := fmt.Sprintf("%s-%d-", docType, year)

	var authoritativeMax int64
	if target, ok := a.targets[docType]; ok {
		err := q.QueryRow(ctx,
			fmt.Sprintf(`SELECT COALESCE(MAX(CAST(SUBSTRING(%s FROM '[0-9]+$') AS BIGINT)), 0) FROM %s WHERE %s LIKE $1`,
				target.Column, target.Table, target.Column),
			prefix+"%").Scan(&authoritativeMax)
		if err != nil {
			return "", shared.MapPgError(err, "document numbers "+docType)
		}
	}

	var trackedMax int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(MAX(CAST(SUBSTRING(number FROM '[0-9]+$') AS BIGINT)), 0)
FROM document_number_tracking WHERE document_type = $1 AND number LIKE $2`,
		docType, prefix+"%").Scan(&trackedMax)
	if err != nil {
		return "", shared.MapPgError(err, "tracked numbers "+docType)
	}

	next := authoritativeMax
	if trackedMax > next {
		next = trackedMax
	}
	number := trackedNumber(docType, year, next+1)

	if _, err := q.Exec(ctx,
		`INSERT INTO document_number_tracking (document_type, number, allocated_at) VALUES ($1, $2, NOW())`,
		docType, number); err != nil {
		return "", shared.MapPgError(err, "tracked number "+number)
	}
	return number, nil
}
