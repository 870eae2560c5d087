// Package queue defines the background jobs and the asynq client that
// schedules them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ParseDocumentTask is scheduled each time a policy file is uploaded.
	ParseDocumentTask = "policy:parse"
	// ScanDocumentTask runs the scanners over a document.
	ScanDocumentTask = "policy:scan"
)

// ParsePayload names the upload to ingest.
type ParsePayload struct {
	UploadID string `json:"upload_id"`
}

// ScanPayload names the document to scan.
type ScanPayload struct {
	DocumentID string `json:"document_id"`
}

// Dispatcher is the job sink used by the API and the CLI. Delivery is at
// least once, so handlers must tolerate duplicates.
type Dispatcher interface {
	EnqueueParse(ctx context.Context, uploadID string) error
	EnqueueScan(ctx context.Context, documentID string) error
}

// NewParseTask builds the asynq task for an upload.
func NewParseTask(uploadID string) (*asynq.Task, error) {
	data, err := json.Marshal(ParsePayload{UploadID: uploadID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ParseDocumentTask, data, asynq.MaxRetry(5)), nil
}

// NewScanTask builds the asynq task for a scan. Handler failures skip
// retry; the small budget covers workers lost mid-run.
func NewScanTask(documentID string) (*asynq.Task, error) {
	data, err := json.Marshal(ScanPayload{DocumentID: documentID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ScanDocumentTask, data, asynq.MaxRetry(2)), nil
}

// Client enqueues tasks on Redis through asynq.
type Client struct {
	client *asynq.Client
}

var _ Dispatcher = (*Client)(nil)

// NewClient wraps an asynq client.
func NewClient(client *asynq.Client) *Client {
	return &Client{client: client}
}

// EnqueueParse enqueues a parse job for the upload.
func (c *Client) EnqueueParse(ctx context.Context, uploadID string) error {
	task, err := NewParseTask(uploadID)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue parse task: %w", err)
	}
	return nil
}

// EnqueueScan enqueues a scan job for the document.
func (c *Client) EnqueueScan(ctx context.Context, documentID string) error {
	task, err := NewScanTask(documentID)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue scan task: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// DecodeParse reads a parse task payload.
func DecodeParse(task *asynq.Task) (ParsePayload, error) {
	var p ParsePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode parse payload: %w", err)
	}
	if p.UploadID == "" {
		return p, fmt.Errorf("decode parse payload: missing upload_id")
	}
	return p, nil
}

// DecodeScan reads a scan task payload.
func DecodeScan(task *asynq.Task) (ScanPayload, error) {
	var p ScanPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode scan payload: %w", err)
	}
	if p.DocumentID == "" {
		return p, fmt.Errorf("decode scan payload: missing document_id")
	}
	return p, nil
}
