// Package notify pushes rendered HTML fragments to observers of a scan or of
// an account's onboarding. Delivery is one-way and best-effort.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Fragment targets rendered by the UI.
const (
	TargetScanStatus         = "scan-status"
	TargetIssuesList         = "issues-list"
	TargetOnboardingProgress = "onboarding-progress"
)

// Notification is one fragment pushed to a channel.
type Notification struct {
	Channel string `json:"channel"`
	Target  string `json:"target"`
	HTML    string `json:"html"`
}

// Sink delivers notifications. Callers log errors and move on.
type Sink interface {
	Push(ctx context.Context, n Notification) error
}

// ScanChannel is the channel observers of one document's scan listen on.
func ScanChannel(documentID string) string {
	return "policy_scan_" + documentID
}

// OnboardingChannel carries upload progress for an account.
func OnboardingChannel(accountID string) string {
	return "onboarding_progress_" + accountID
}

// PushAll delivers every notification, logging the ones that fail.
func PushAll(ctx context.Context, sink Sink, log zerolog.Logger, ns ...Notification) {
	if sink == nil {
		return
	}
	for _, n := range ns {
		if err := sink.Push(ctx, n); err != nil {
			log.Warn().Err(err).Str("channel", n.Channel).Str("target", n.Target).Msg("notification not delivered")
		}
	}
}

// LogSink writes notifications to the log. Used when no broker is configured.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Push(_ context.Context, n Notification) error {
	s.Log.Debug().Str("channel", n.Channel).Str("target", n.Target).Int("bytes", len(n.HTML)).Msg("notification")
	return nil
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Push(context.Context, Notification) error { return nil }
