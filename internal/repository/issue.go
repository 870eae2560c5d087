package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/PolicyPro/internal/model"
)

const issueColumns = `id, account_id, policy_document_id, issue_type, description, COALESCE(excerpt,''), status, metadata, created_at, updated_at`

// CreateIssue inserts the issue, its related policy links and its suggested
// changes in one transaction.
func (r *PolicyRepository) CreateIssue(ctx context.Context, issue *model.Issue) error {
	if err := issue.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	issue.Status = model.IssueOpen
	issue.CreatedAt = now
	issue.UpdatedAt = now
	meta, err := json.Marshal(nonNilMeta(issue.Metadata))
	if err != nil {
		return fmt.Errorf("marshal issue metadata: %w", err)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if issue.AccountID == "" {
			if err := tx.QueryRow(ctx, `SELECT account_id FROM policy_documents WHERE id=$1`, issue.PolicyDocumentID).Scan(&issue.AccountID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("document %s: %w", issue.PolicyDocumentID, model.ErrNotFound)
				}
				return fmt.Errorf("lookup issue account: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO issues (id, account_id, policy_document_id, issue_type, description, excerpt, status, metadata, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8::jsonb,$9,$10)
		`, issue.ID, issue.AccountID, issue.PolicyDocumentID, issue.Type, issue.Description, issue.Excerpt, issue.Status, string(meta), now, now); err != nil {
			return fmt.Errorf("insert issue: %w", err)
		}
		for _, related := range issue.RelatedPolicyIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO issue_related_policies (issue_id, policy_document_id, created_at)
				VALUES ($1,$2,$3)
				ON CONFLICT (issue_id, policy_document_id) DO NOTHING
			`, issue.ID, related, now); err != nil {
				return fmt.Errorf("insert related policy: %w", err)
			}
		}
		for i := range issue.SuggestedChanges {
			change := &issue.SuggestedChanges[i]
			if change.ID == "" {
				change.ID = uuid.NewString()
			}
			change.IssueID = issue.ID
			change.Status = model.ChangePending
			change.CreatedAt = now
			change.UpdatedAt = now
			if _, err := tx.Exec(ctx, `
				INSERT INTO suggested_changes (id, issue_id, action_type, original_text, suggested_text, status, created_at, updated_at)
				VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),$6,$7,$8)
			`, change.ID, change.IssueID, change.Action, change.OriginalText, change.SuggestedText, change.Status, now, now); err != nil {
				return fmt.Errorf("insert suggested change: %w", err)
			}
		}
		return nil
	})
}

func nonNilMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// GetIssue returns an issue with its links and changes.
func (r *PolicyRepository) GetIssue(ctx context.Context, id string) (*model.Issue, error) {
	return getIssue(ctx, r.pool, id)
}

func getIssue(ctx context.Context, q querier, id string) (*model.Issue, error) {
	issues, err := loadIssues(ctx, q, `SELECT `+issueColumns+` FROM issues WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, fmt.Errorf("issue %s: %w", id, model.ErrNotFound)
	}
	return &issues[0], nil
}

// ListOpenIssues returns the document's open issues, oldest first.
func (r *PolicyRepository) ListOpenIssues(ctx context.Context, documentID string) ([]model.Issue, error) {
	return loadIssues(ctx, r.pool, `
		SELECT `+issueColumns+` FROM issues
		WHERE policy_document_id=$1 AND status=$2
		ORDER BY created_at, id
	`, documentID, model.IssueOpen)
}

func loadIssues(ctx context.Context, q querier, stmt string, args ...any) ([]model.Issue, error) {
	rows, err := q.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	issues := make([]model.Issue, 0)
	for rows.Next() {
		var (
			issue model.Issue
			meta  []byte
		)
		if err := rows.Scan(
			&issue.ID,
			&issue.AccountID,
			&issue.PolicyDocumentID,
			&issue.Type,
			&issue.Description,
			&issue.Excerpt,
			&issue.Status,
			&meta,
			&issue.CreatedAt,
			&issue.UpdatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &issue.Metadata); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode issue metadata: %w", err)
			}
		}
		issue.RelatedPolicyIDs = []string{}
		issue.SuggestedChanges = []model.SuggestedChange{}
		issues = append(issues, issue)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	if len(issues) == 0 {
		return issues, nil
	}
	ids := make([]string, len(issues))
	byID := make(map[string]*model.Issue, len(issues))
	for i := range issues {
		ids[i] = issues[i].ID
		byID[issues[i].ID] = &issues[i]
	}
	if err := attachRelated(ctx, q, ids, byID); err != nil {
		return nil, err
	}
	if err := attachChanges(ctx, q, ids, byID); err != nil {
		return nil, err
	}
	return issues, nil
}

func attachRelated(ctx context.Context, q querier, ids []string, byID map[string]*model.Issue) error {
	rows, err := q.Query(ctx, `
		SELECT issue_id, policy_document_id FROM issue_related_policies
		WHERE issue_id = ANY($1)
		ORDER BY created_at, policy_document_id
	`, ids)
	if err != nil {
		return fmt.Errorf("list related policies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var issueID, docID string
		if err := rows.Scan(&issueID, &docID); err != nil {
			return fmt.Errorf("scan related policy: %w", err)
		}
		if issue, ok := byID[issueID]; ok {
			issue.RelatedPolicyIDs = append(issue.RelatedPolicyIDs, docID)
		}
	}
	return rows.Err()
}

func attachChanges(ctx context.Context, q querier, ids []string, byID map[string]*model.Issue) error {
	rows, err := q.Query(ctx, `
		SELECT id, issue_id, action_type, COALESCE(original_text,''), COALESCE(suggested_text,''), status, created_at, updated_at
		FROM suggested_changes
		WHERE issue_id = ANY($1)
		ORDER BY created_at, id
	`, ids)
	if err != nil {
		return fmt.Errorf("list suggested changes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return err
		}
		if issue, ok := byID[change.IssueID]; ok {
			issue.SuggestedChanges = append(issue.SuggestedChanges, *change)
		}
	}
	return rows.Err()
}

func scanChange(row pgx.Row) (*model.SuggestedChange, error) {
	var c model.SuggestedChange
	if err := row.Scan(&c.ID, &c.IssueID, &c.Action, &c.OriginalText, &c.SuggestedText, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan suggested change: %w", err)
	}
	return &c, nil
}

// HasOpenConflict checks both directions of the document pair.
func (r *PolicyRepository) HasOpenConflict(ctx context.Context, documentID, otherID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM issues i
			JOIN issue_related_policies rp ON rp.issue_id = i.id
			WHERE i.issue_type=$3 AND i.status=$4
			  AND ((i.policy_document_id=$1 AND rp.policy_document_id=$2)
			    OR (i.policy_document_id=$2 AND rp.policy_document_id=$1))
		)
	`, documentID, otherID, model.IssueConflict, model.IssueOpen).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check open conflict: %w", err)
	}
	return exists, nil
}

// UpdateIssueStatus sets the status chosen by a reviewer.
func (r *PolicyRepository) UpdateIssueStatus(ctx context.Context, id string, status model.IssueStatus) (*model.Issue, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidIssue, status)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE issues SET status=$2, updated_at=$3 WHERE id=$1`, id, status, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("update issue status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("issue %s: %w", id, model.ErrNotFound)
	}
	return r.GetIssue(ctx, id)
}

// ApplySuggestedChange patches the document content, marks the change
// applied and re-evaluates the issue in one transaction.
func (r *PolicyRepository) ApplySuggestedChange(ctx context.Context, id string) (*model.Outcome, error) {
	return r.transitionChange(ctx, id, model.ChangeApplied)
}

// DismissSuggestedChange marks the change dismissed and re-evaluates the
// issue in one transaction.
func (r *PolicyRepository) DismissSuggestedChange(ctx context.Context, id string) (*model.Outcome, error) {
	return r.transitionChange(ctx, id, model.ChangeDismissed)
}

func (r *PolicyRepository) transitionChange(ctx context.Context, id string, to model.ChangeStatus) (*model.Outcome, error) {
	var out model.Outcome
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		change, err := scanChange(tx.QueryRow(ctx, `
			SELECT id, issue_id, action_type, COALESCE(original_text,''), COALESCE(suggested_text,''), status, created_at, updated_at
			FROM suggested_changes WHERE id=$1 FOR UPDATE
		`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("suggested change %s: %w", id, model.ErrNotFound)
			}
			return err
		}
		if change.Status != model.ChangePending {
			return model.ErrChangeNotPending
		}
		now := time.Now().UTC()
		if to == model.ChangeApplied {
			var docID string
			if err := tx.QueryRow(ctx, `SELECT policy_document_id FROM issues WHERE id=$1`, change.IssueID).Scan(&docID); err != nil {
				return fmt.Errorf("lookup issue document: %w", err)
			}
			doc, err := getDocument(ctx, tx, docID, true)
			if err != nil {
				return err
			}
			if doc.Content == nil {
				return model.ErrNoContent
			}
			patched, err := change.Patch(*doc.Content)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE policy_documents SET content=$2, updated_at=$3 WHERE id=$1`, docID, patched, now); err != nil {
				return fmt.Errorf("update document content: %w", err)
			}
			out.Content = &patched
		}
		if err := change.Transition(to); err != nil {
			return err
		}
		change.UpdatedAt = now
		if _, err := tx.Exec(ctx, `UPDATE suggested_changes SET status=$2, updated_at=$3 WHERE id=$1`, change.ID, change.Status, now); err != nil {
			return fmt.Errorf("update suggested change: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE issues SET status=$2, updated_at=$3
			WHERE id=$1 AND status=$4
			  AND NOT EXISTS (SELECT 1 FROM suggested_changes WHERE issue_id=$1 AND status=$5)
		`, change.IssueID, model.IssueResolved, now, model.IssueOpen, model.ChangePending)
		if err != nil {
			return fmt.Errorf("resolve issue: %w", err)
		}
		out.Resolved = tag.RowsAffected() > 0
		issue, err := getIssue(ctx, tx, change.IssueID)
		if err != nil {
			return err
		}
		out.Change = *change
		out.Issue = *issue
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
