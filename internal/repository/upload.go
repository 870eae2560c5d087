package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/PolicyPro/internal/model"
)

const uploadColumns = `id, account_id, name, file_name, content_type, object_key, status, policy_document_id, error_message, created_at, updated_at`

// CreateUpload inserts a pending upload before parsing begins.
func (r *PolicyRepository) CreateUpload(ctx context.Context, upload *model.PolicyUpload) error {
	now := time.Now().UTC()
	if upload.ID == "" {
		upload.ID = uuid.NewString()
	}
	upload.Status = model.UploadPending
	upload.CreatedAt = now
	upload.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO policy_uploads (id, account_id, name, file_name, content_type, object_key, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, upload.ID, upload.AccountID, upload.Name, upload.FileName, upload.ContentType, upload.ObjectKey, upload.Status, now, now)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

// GetUpload returns an upload by id.
func (r *PolicyRepository) GetUpload(ctx context.Context, id string) (*model.PolicyUpload, error) {
	return getUpload(ctx, r.pool, id, false)
}

func getUpload(ctx context.Context, q querier, id string, lock bool) (*model.PolicyUpload, error) {
	stmt := `SELECT ` + uploadColumns + ` FROM policy_uploads WHERE id=$1`
	if lock {
		stmt += ` FOR UPDATE`
	}
	var u model.PolicyUpload
	err := q.QueryRow(ctx, stmt, id).Scan(
		&u.ID,
		&u.AccountID,
		&u.Name,
		&u.FileName,
		&u.ContentType,
		&u.ObjectKey,
		&u.Status,
		&u.PolicyDocumentID,
		&u.ErrorMessage,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("upload %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("select upload: %w", err)
	}
	return &u, nil
}

// MarkUploadProcessing sets the status to processing.
func (r *PolicyRepository) MarkUploadProcessing(ctx context.Context, id string) error {
	return r.updateUploadStatus(ctx, id, model.UploadProcessing, nil)
}

// MarkUploadFailed marks the ingestion attempt as failed and stores the message.
func (r *PolicyRepository) MarkUploadFailed(ctx context.Context, id, message string) error {
	return r.updateUploadStatus(ctx, id, model.UploadFailed, &message)
}

func (r *PolicyRepository) updateUploadStatus(ctx context.Context, id string, status model.UploadStatus, errorMsg *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE policy_uploads SET status=$2, error_message=$3, updated_at=$4 WHERE id=$1
	`, id, status, errorMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// CompleteUpload stores the parsed content and marks the upload completed.
func (r *PolicyRepository) CompleteUpload(ctx context.Context, id string, ingested model.Ingested) (*model.PolicyDocument, error) {
	var doc *model.PolicyDocument
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		upload, err := getUpload(ctx, tx, id, true)
		if err != nil {
			return err
		}
		content := ingested.Content
		now := time.Now().UTC()
		if upload.PolicyDocumentID != nil {
			tag, err := tx.Exec(ctx, `
				UPDATE policy_documents SET content=$2, published_at=$3, updated_at=$4 WHERE id=$1
			`, *upload.PolicyDocumentID, content, ingested.PublishedAt, now)
			if err != nil {
				return fmt.Errorf("overwrite document content: %w", err)
			}
			if tag.RowsAffected() > 0 {
				doc, err = getDocument(ctx, tx, *upload.PolicyDocumentID, false)
				if err != nil {
					return err
				}
			}
		}
		if doc == nil {
			doc = &model.PolicyDocument{
				AccountID:   upload.AccountID,
				Name:        upload.Name,
				Content:     &content,
				PublishedAt: ingested.PublishedAt,
			}
			if err := insertDocument(ctx, tx, doc); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE policy_uploads SET status=$2, policy_document_id=$3, error_message=NULL, updated_at=$4 WHERE id=$1
		`, id, model.UploadCompleted, doc.ID, now); err != nil {
			return fmt.Errorf("complete upload: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// CountUnfinishedUploads counts uploads of the account not yet completed.
func (r *PolicyRepository) CountUnfinishedUploads(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM policy_uploads WHERE account_id=$1 AND status <> $2`, accountID, model.UploadCompleted).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unfinished uploads: %w", err)
	}
	return n, nil
}
