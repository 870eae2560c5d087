package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/dharsanguruparan/PolicyPro/internal/model"
)

var fragments = template.Must(template.New("fragments").Parse(`
{{define "status"}}<div id="scan-status" class="scan-status scan-status--{{.State}}" data-document="{{.DocumentID}}">{{.Message}}</div>{{end}}
{{define "issues"}}<ul id="issues-list" data-document="{{.DocumentID}}">
{{- range .Issues}}
<li class="issue issue--{{.Type}}" data-issue="{{.ID}}">
<p class="issue__description">{{.Description}}</p>
{{- if .Excerpt}}<blockquote>{{.Excerpt}}</blockquote>{{end}}
{{- range .SuggestedChanges}}
<div class="suggestion suggestion--{{.Status}}" data-suggestion="{{.ID}}" data-action="{{.Action}}">
{{- if .OriginalText}}<del>{{.OriginalText}}</del>{{end}}
{{- if .SuggestedText}}<ins>{{.SuggestedText}}</ins>{{end}}
</div>
{{- end}}
</li>
{{- else}}
<li class="issue issue--none">No open issues</li>
{{- end}}
</ul>{{end}}
{{define "onboarding"}}<div id="onboarding-progress" data-account="{{.AccountID}}">{{if eq .Remaining 0}}All policies processed{{else}}{{.Remaining}} {{if eq .Remaining 1}}policy{{else}}policies{{end}} still processing{{end}}</div>{{end}}
`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := fragments.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

type statusView struct {
	DocumentID string
	State      string
	Message    string
}

// ScanProgress renders a progress message for a running scan.
func ScanProgress(documentID, message string) (Notification, error) {
	html, err := render("status", statusView{DocumentID: documentID, State: string(model.ScanScanning), Message: message})
	if err != nil {
		return Notification{}, err
	}
	return Notification{Channel: ScanChannel(documentID), Target: TargetScanStatus, HTML: html}, nil
}

// ScanFinished renders the final status line plus the open issue list.
func ScanFinished(documentID string, state model.ScanStatus, message string, issues []model.Issue) ([]Notification, error) {
	status, err := render("status", statusView{DocumentID: documentID, State: string(state), Message: message})
	if err != nil {
		return nil, err
	}
	list, err := IssuesList(documentID, issues)
	if err != nil {
		return nil, err
	}
	return []Notification{
		{Channel: ScanChannel(documentID), Target: TargetScanStatus, HTML: status},
		list,
	}, nil
}

// IssuesList renders the open issues of a document.
func IssuesList(documentID string, issues []model.Issue) (Notification, error) {
	html, err := render("issues", struct {
		DocumentID string
		Issues     []model.Issue
	}{documentID, issues})
	if err != nil {
		return Notification{}, err
	}
	return Notification{Channel: ScanChannel(documentID), Target: TargetIssuesList, HTML: html}, nil
}

// OnboardingProgress renders how many uploads of the account are unfinished.
func OnboardingProgress(accountID string, remaining int) (Notification, error) {
	html, err := render("onboarding", struct {
		AccountID string
		Remaining int
	}{accountID, remaining})
	if err != nil {
		return Notification{}, err
	}
	return Notification{Channel: OnboardingChannel(accountID), Target: TargetOnboardingProgress, HTML: html}, nil
}
