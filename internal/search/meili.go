// Package search keeps issues searchable in Meilisearch. The index is a
// best-effort copy of the store: when Meilisearch is down writes are
// dropped and searches fail with ErrUnavailable.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/PolicyPro/internal/model"
)

const idxIssues = "policypro_issues"

// ErrUnavailable is returned by Search while Meilisearch is unreachable.
var ErrUnavailable = errors.New("search index unavailable")

// IssueRecord is the indexed form of an issue.
type IssueRecord struct {
	ID               string   `json:"id"`
	AccountID        string   `json:"accountId"`
	PolicyDocumentID string   `json:"policyDocumentId"`
	IssueType        string   `json:"issueType"`
	Status           string   `json:"status"`
	Description      string   `json:"description"`
	Excerpt          string   `json:"excerpt"`
	RelatedPolicyIDs []string `json:"relatedPolicyIds"`
	UpdatedAt        int64    `json:"updatedAt"`
}

// RecordFromIssue converts an issue for indexing.
func RecordFromIssue(issue model.Issue) IssueRecord {
	related := issue.RelatedPolicyIDs
	if related == nil {
		related = []string{}
	}
	return IssueRecord{
		ID:               issue.ID,
		AccountID:        issue.AccountID,
		PolicyDocumentID: issue.PolicyDocumentID,
		IssueType:        string(issue.Type),
		Status:           string(issue.Status),
		Description:      issue.Description,
		Excerpt:          issue.Excerpt,
		RelatedPolicyIDs: related,
		UpdatedAt:        issue.UpdatedAt.Unix(),
	}
}

// Query filters an issue search.
type Query struct {
	Text       string
	AccountID  string
	DocumentID string
	Status     string
	Limit      int
	Offset     int
}

// Filters renders the Meilisearch filter expressions for q.
func (q Query) Filters() []string {
	var filters []string
	if q.AccountID != "" {
		filters = append(filters, fmt.Sprintf("accountId = %q", q.AccountID))
	}
	if q.DocumentID != "" {
		filters = append(filters, fmt.Sprintf("policyDocumentId = %q", q.DocumentID))
	}
	if q.Status != "" {
		filters = append(filters, fmt.Sprintf("status = %q", q.Status))
	}
	return filters
}

// Hit is one search result.
type Hit struct {
	ID               string `json:"id"`
	PolicyDocumentID string `json:"policyDocumentId"`
	IssueType        string `json:"issueType"`
	Status           string `json:"status"`
	Description      string `json:"description"`
	Snippet          string `json:"snippet"`
}

// Meili implements the issue index on Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     zerolog.Logger
}

// NewMeili creates the client and configures the index. An unreachable
// server is not an error; the health loop picks it up when it recovers.
func NewMeili(url, apiKey string, log zerolog.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		log:    log,
	}
	if _, err := m.client.Health(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}
	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxIssues, PrimaryKey: "id"}); err != nil {
		m.log.Debug().Err(err).Msg("create issue index (may already exist)")
	}
	index := m.client.Index(idxIssues)

	filterable := []interface{}{"accountId", "policyDocumentId", "status", "issueType"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"description", "excerpt"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn().Err(err).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			was := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !was {
				m.log.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the health loop.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch answered the last health check.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexIssues adds or replaces the issues in the index.
func (m *Meili) IndexIssues(_ context.Context, issues []model.Issue) error {
	if len(issues) == 0 || !m.healthy.Load() {
		return nil
	}
	records := make([]IssueRecord, len(issues))
	for i, issue := range issues {
		records[i] = RecordFromIssue(issue)
	}
	if _, err := m.client.Index(idxIssues).AddDocuments(records, nil); err != nil {
		return fmt.Errorf("index issues: %w", err)
	}
	return nil
}

// RemoveIssues deletes the issues from the index.
func (m *Meili) RemoveIssues(_ context.Context, ids []string) error {
	if !m.healthy.Load() {
		return nil
	}
	index := m.client.Index(idxIssues)
	var errs []error
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			errs = append(errs, fmt.Errorf("delete issue %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Search runs q against the issue index.
func (m *Meili) Search(_ context.Context, q Query) ([]Hit, int, error) {
	if !m.healthy.Load() {
		return nil, 0, ErrUnavailable
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}
	sr := &meili.SearchRequest{
		IndexUID:              idxIssues,
		Query:                 q.Text,
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"description", "excerpt"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := q.Filters(); len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: []*meili.SearchRequest{sr}})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	hits := []Hit{}
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			hits = append(hits, hitFromMeili(hit))
		}
	}
	return hits, total, nil
}

func hitFromMeili(hit meili.Hit) Hit {
	h := Hit{
		ID:               decodeString(hit, "id"),
		PolicyDocumentID: decodeString(hit, "policyDocumentId"),
		IssueType:        decodeString(hit, "issueType"),
		Status:           decodeString(hit, "status"),
		Description:      decodeString(hit, "description"),
	}
	h.Snippet = firstNonBlank(decodeFormatted(hit, "excerpt"), decodeFormatted(hit, "description"), decodeString(hit, "excerpt"))
	return h
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decodeFormatted(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
