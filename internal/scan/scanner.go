// Package scan runs the review passes over a policy document and keeps the
// document's scan state in step with their outcome.
package scan

import (
	"context"
	"fmt"
	"strings"

	"github.com/dharsanguruparan/PolicyPro/internal/model"
)

// Scanner is one review pass. Scan persists the issues it finds and returns
// them. A scanner that has nothing to say returns no issues and no error.
type Scanner interface {
	Name() string
	// Progress is the message shown to observers while the scanner runs.
	Progress() string
	Scan(ctx context.Context, doc *model.PolicyDocument) ([]model.Issue, error)
}

// ScannerError records the failure of one scanner within a scan.
type ScannerError struct {
	Scanner string
	Err     error
}

func (e ScannerError) Error() string {
	return e.Scanner + ": " + e.Err.Error()
}

func (e ScannerError) Unwrap() error { return e.Err }

// Summary joins scanner failures into the document's scan error.
func Summary(errs []ScannerError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// runGuarded calls s.Scan and turns a panic into an error so one broken
// scanner cannot take the others down.
func runGuarded(ctx context.Context, s Scanner, doc *model.PolicyDocument) (issues []model.Issue, err error) {
	defer func() {
		if r := recover(); r != nil {
			issues = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Scan(ctx, doc)
}
