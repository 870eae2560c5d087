package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/PolicyPro/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PolicyRepository wraps all SQL used by the API and the worker.
type PolicyRepository struct {
	pool *pgxpool.Pool
}

var _ Store = (*PolicyRepository)(nil)

// NewPolicyRepository constructs a repository.
func NewPolicyRepository(pool *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{pool: pool}
}

// Ping checks database connectivity.
func (r *PolicyRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const documentColumns = `id, account_id, name, content, published_at, scan_status, scan_error, last_scanned_at, created_at, updated_at`

// CreateDocument inserts an idle document.
func (r *PolicyRepository) CreateDocument(ctx context.Context, doc *model.PolicyDocument) error {
	return insertDocument(ctx, r.pool, doc)
}

func insertDocument(ctx context.Context, q querier, doc *model.PolicyDocument) error {
	now := time.Now().UTC()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.ScanStatus = model.ScanIdle
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err := q.Exec(ctx, `
		INSERT INTO policy_documents (id, account_id, name, content, published_at, scan_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, doc.ID, doc.AccountID, doc.Name, doc.Content, doc.PublishedAt, doc.ScanStatus, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument returns a document by id.
func (r *PolicyRepository) GetDocument(ctx context.Context, id string) (*model.PolicyDocument, error) {
	return getDocument(ctx, r.pool, id, false)
}

func getDocument(ctx context.Context, q querier, id string, lock bool) (*model.PolicyDocument, error) {
	stmt := `SELECT ` + documentColumns + ` FROM policy_documents WHERE id=$1`
	if lock {
		stmt += ` FOR UPDATE`
	}
	doc, err := scanDocument(q.QueryRow(ctx, stmt, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("select document: %w", err)
	}
	return doc, nil
}

func scanDocument(row pgx.Row) (*model.PolicyDocument, error) {
	var doc model.PolicyDocument
	if err := row.Scan(
		&doc.ID,
		&doc.AccountID,
		&doc.Name,
		&doc.Content,
		&doc.PublishedAt,
		&doc.ScanStatus,
		&doc.ScanError,
		&doc.LastScannedAt,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns the account's documents ordered by name.
func (r *PolicyRepository) ListDocuments(ctx context.Context, accountID string) ([]model.PolicyDocument, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM policy_documents WHERE account_id=$1 ORDER BY name`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	items := make([]model.PolicyDocument, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// DeleteDocument removes the document; issues cascade.
func (r *PolicyRepository) DeleteDocument(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM policy_documents WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// ListSiblingDocuments returns the other non-empty documents of the account.
func (r *PolicyRepository) ListSiblingDocuments(ctx context.Context, accountID, excludeID string) ([]model.DocumentRef, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name FROM policy_documents
		WHERE account_id=$1 AND id <> $2 AND content IS NOT NULL AND btrim(content) <> ''
		ORDER BY name
	`, accountID, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list sibling documents: %w", err)
	}
	defer rows.Close()
	refs := make([]model.DocumentRef, 0)
	for rows.Next() {
		var ref model.DocumentRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("scan sibling: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate siblings: %w", err)
	}
	return refs, nil
}

// BeginScan performs the scanning check-and-set and purges open issues in
// one transaction.
func (r *PolicyRepository) BeginScan(ctx context.Context, id string) ([]string, error) {
	var purged []string
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE policy_documents
			SET scan_status=$2, scan_error=NULL, updated_at=$3
			WHERE id=$1 AND scan_status <> $2
		`, id, model.ScanScanning, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("mark scanning: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := getDocument(ctx, tx, id, false); err != nil {
				return err
			}
			return model.ErrScanInProgress
		}
		rows, err := tx.Query(ctx, `DELETE FROM issues WHERE policy_document_id=$1 AND status=$2 RETURNING id`, id, model.IssueOpen)
		if err != nil {
			return fmt.Errorf("purge open issues: %w", err)
		}
		purged, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("collect purged issues: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purged, nil
}

// CompleteScan marks the scan completed.
func (r *PolicyRepository) CompleteScan(ctx context.Context, id string, at time.Time) error {
	return r.finishScan(ctx, id, model.ScanCompleted, nil, at)
}

// FailScan marks the scan failed and stores the message.
func (r *PolicyRepository) FailScan(ctx context.Context, id, message string, at time.Time) error {
	return r.finishScan(ctx, id, model.ScanFailed, &message, at)
}

func (r *PolicyRepository) finishScan(ctx context.Context, id string, status model.ScanStatus, scanErr *string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE policy_documents
		SET scan_status=$2, scan_error=$3, last_scanned_at=$4, updated_at=$4
		WHERE id=$1
	`, id, status, scanErr, at.UTC())
	if err != nil {
		return fmt.Errorf("update scan status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	return nil
}
