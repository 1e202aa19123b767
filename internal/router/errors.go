package router

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded is the sentinel kind behind BudgetExceededError; compare
// with errors.Is.
var ErrBudgetExceeded = errors.New("router: budget exceeded")

// BudgetExceededError reports the spend that would cross (or crossed) the
// limit (spec.md §4.4 "Budget Gate").
type BudgetExceededError struct {
	Spent float64
	Limit float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("router: spend %.4f exceeds limit %.4f", e.Spent, e.Limit)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }
