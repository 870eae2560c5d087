// Package model contains the structs shared by the ingestion, scanning and
// remediation packages together with the pure state rules that govern them.
package model

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrScanInProgress rejects a scan start while another is in flight.
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrNoContent marks a document that has not been ingested yet.
	ErrNoContent = errors.New("document has no content")
)

// ScanStatus describes where a document is in the scan lifecycle.
type ScanStatus string

const (
	ScanIdle      ScanStatus = "idle"
	ScanScanning  ScanStatus = "scanning"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// PolicyDocument is a tenant-owned policy whose content is scanned.
type PolicyDocument struct {
	ID            string     `json:"id"`
	AccountID     string     `json:"accountId"`
	Name          string     `json:"name"`
	Content       *string    `json:"content"`
	PublishedAt   *time.Time `json:"publishedAt,omitempty"`
	ScanStatus    ScanStatus `json:"scanStatus"`
	ScanError     *string    `json:"scanError,omitempty"`
	LastScannedAt *time.Time `json:"lastScannedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// HasContent reports whether the document carries non-blank content.
func (d *PolicyDocument) HasContent() bool {
	return d != nil && d.Content != nil && strings.TrimSpace(*d.Content) != ""
}

// Text returns the content or the empty string when it is null.
func (d *PolicyDocument) Text() string {
	if d == nil || d.Content == nil {
		return ""
	}
	return *d.Content
}

// CanScan reports whether a new scan may start.
func (d *PolicyDocument) CanScan() bool {
	return d.ScanStatus != ScanScanning
}

// DocumentRef is the light projection of a sibling document offered to the
// conflict scanner.
type DocumentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
