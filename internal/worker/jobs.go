// Package worker holds the job handlers shared by the asynq worker and the
// in-process dispatcher.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/notify"
	"github.com/dharsanguruparan/PolicyPro/internal/parser"
	"github.com/dharsanguruparan/PolicyPro/internal/repository"
	"github.com/dharsanguruparan/PolicyPro/internal/s3storage"
	"github.com/dharsanguruparan/PolicyPro/internal/scan"
)

// FileStore is the object storage the parse job reads from and writes to.
type FileStore interface {
	DownloadRaw(ctx context.Context, objectKey string) ([]byte, error)
	UploadProcessed(ctx context.Context, objectKey string, data []byte) error
}

// Parser turns an attachment into content.
type Parser interface {
	Parse(ctx context.Context, att parser.Attachment) (model.Ingested, bool)
}

// ScanRunner runs a claimed scan.
type ScanRunner interface {
	Run(ctx context.Context, documentID string) (*scan.Report, error)
}

const ingestionFailed = "could not extract content from the file"

// Jobs executes parse and scan jobs.
type Jobs struct {
	store  repository.Store
	files  FileStore
	parser Parser
	scans  ScanRunner
	sink   notify.Sink
	log    zerolog.Logger
}

// NewJobs wires the job handlers. A nil sink discards notifications.
func NewJobs(store repository.Store, files FileStore, p Parser, scans ScanRunner, sink notify.Sink, log zerolog.Logger) *Jobs {
	if sink == nil {
		sink = notify.Discard{}
	}
	return &Jobs{store: store, files: files, parser: p, scans: scans, sink: sink, log: log}
}

// ParseUpload ingests an upload. A file the parser cannot read marks the
// upload failed and is not an error; storage problems are returned so the
// job can be retried. Redelivery overwrites the document created before.
func (j *Jobs) ParseUpload(ctx context.Context, uploadID string) error {
	log := j.log.With().Str("upload_id", uploadID).Logger()

	upload, err := j.store.GetUpload(ctx, uploadID)
	if err != nil {
		return fmt.Errorf("load upload: %w", err)
	}
	if err := j.store.MarkUploadProcessing(ctx, uploadID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	data, err := j.files.DownloadRaw(ctx, upload.ObjectKey)
	if err != nil {
		j.fail(ctx, log, upload, err.Error())
		return err
	}
	path, cleanup, err := writeTemp(upload.FileName, data)
	if err != nil {
		j.fail(ctx, log, upload, err.Error())
		return err
	}
	defer cleanup()

	ingested, ok := j.parser.Parse(ctx, parser.Attachment{Path: path, FileName: upload.FileName, ContentType: upload.ContentType})
	if !ok {
		j.fail(ctx, log, upload, ingestionFailed)
		return nil
	}

	doc, err := j.store.CompleteUpload(ctx, uploadID, ingested)
	if err != nil {
		j.fail(ctx, log, upload, err.Error())
		return fmt.Errorf("complete upload: %w", err)
	}
	if err := j.files.UploadProcessed(ctx, s3storage.ProcessedObjectKey(doc.ID), []byte(ingested.Content)); err != nil {
		log.Warn().Err(err).Str("document_id", doc.ID).Msg("failed to store processed markdown")
	}
	log.Info().Str("document_id", doc.ID).Int("bytes", len(ingested.Content)).Msg("upload ingested")
	j.onboarding(ctx, log, upload.AccountID)
	return nil
}

func (j *Jobs) fail(ctx context.Context, log zerolog.Logger, upload *model.PolicyUpload, message string) {
	log.Error().Str("reason", message).Msg("upload failed")
	if err := j.store.MarkUploadFailed(ctx, upload.ID, message); err != nil {
		log.Error().Err(err).Msg("failed to mark upload failed")
	}
	j.onboarding(ctx, log, upload.AccountID)
}

func (j *Jobs) onboarding(ctx context.Context, log zerolog.Logger, accountID string) {
	remaining, err := j.store.CountUnfinishedUploads(ctx, accountID)
	if err != nil {
		log.Warn().Err(err).Msg("count unfinished uploads")
		return
	}
	n, err := notify.OnboardingProgress(accountID, remaining)
	if err != nil {
		log.Warn().Err(err).Msg("render onboarding progress")
		return
	}
	notify.PushAll(ctx, j.sink, log, n)
}

// ScanDocument runs the scan a request already claimed.
func (j *Jobs) ScanDocument(ctx context.Context, documentID string) error {
	report, err := j.scans.Run(ctx, documentID)
	if err != nil {
		return fmt.Errorf("scan document %s: %w", documentID, err)
	}
	j.log.Debug().Str("document_id", documentID).Str("status", string(report.Status)).Int("issues", report.Issues).Msg("scan job done")
	return nil
}

func writeTemp(fileName string, data []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "policypro-upload-*"+filepath.Ext(fileName))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), cleanup, nil
}
