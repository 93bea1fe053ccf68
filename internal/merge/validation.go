package merge

import (
	"fmt"

	"github.com/crimestats/crimestats/pkg/types"
)

// ValidationResult holds the outcome of a table validation.
type ValidationResult struct {
	Valid              bool
	ExpectedTotalCount int64
	ActualTotalCount   int64
	Errors             []string
}

// Validate checks the canonical table invariants: no exact duplicates,
// unique identity keys, date-then-suburb ordering, and that the offence
// counts add up to expectedCount.
func Validate(table types.Table, expectedCount int64) *ValidationResult {
	vr := &ValidationResult{
		Valid:              true,
		ExpectedTotalCount: expectedCount,
		ActualTotalCount:   table.TotalCount(),
	}

	if vr.ActualTotalCount != expectedCount {
		vr.Valid = false
		vr.Errors = append(vr.Errors, fmt.Sprintf(
			"offence count mismatch: expected %d, got %d", expectedCount, vr.ActualTotalCount))
	}

	rows := make(map[types.Incident]int, len(table))
	keys := make(map[types.Key]int, len(table))
	for i, in := range table {
		if j, ok := rows[in]; ok {
			vr.Valid = false
			vr.Errors = append(vr.Errors, fmt.Sprintf("row %d is an exact duplicate of row %d", i, j))
			continue
		}
		rows[in] = i

		if j, ok := keys[in.Key()]; ok {
			vr.Valid = false
			vr.Errors = append(vr.Errors, fmt.Sprintf("row %d repeats the identity key of row %d", i, j))
			continue
		}
		keys[in.Key()] = i
	}

	if !table.IsCanonicallySorted() {
		vr.Valid = false
		vr.Errors = append(vr.Errors, "rows are not ordered by reported date then suburb")
	}

	return vr
}
