package model

import "time"

// UploadStatus tracks a raw attachment through ingestion.
type UploadStatus string

const (
	UploadPending    UploadStatus = "pending"
	UploadProcessing UploadStatus = "processing"
	UploadCompleted  UploadStatus = "completed"
	UploadFailed     UploadStatus = "failed"
)

// PolicyUpload is an uploaded file waiting to become a PolicyDocument.
type PolicyUpload struct {
	ID               string       `json:"id"`
	AccountID        string       `json:"accountId"`
	Name             string       `json:"name"`
	FileName         string       `json:"fileName"`
	ContentType      string       `json:"contentType"`
	ObjectKey        string       `json:"-"`
	Status           UploadStatus `json:"status"`
	PolicyDocumentID *string      `json:"policyDocumentId,omitempty"`
	ErrorMessage     *string      `json:"errorMessage,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Ingested is what the parser produced for an upload.
type Ingested struct {
	Content     string
	PublishedAt *time.Time
}
