package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/parser"
	"github.com/dharsanguruparan/PolicyPro/internal/s3storage"
)

const maxFieldBytes = 1024

// handleUpload accepts a multipart form with a file part and the account
// and name fields, stores the raw file and schedules ingestion.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Files == nil {
		s.badRequest(w, http.StatusServiceUnavailable, "file storage unavailable")
		return
	}
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+16*1024)
	mr, err := r.MultipartReader()
	if err != nil {
		s.badRequest(w, http.StatusBadRequest, "expecting multipart form")
		return
	}

	fields := map[string]string{}
	var tmp *tempUpload
	defer func() {
		if tmp != nil {
			tmp.f.Close()
			os.Remove(tmp.path)
		}
	}()
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.badRequest(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() == "file" && tmp == nil {
			tmp, err = s.persistTemp(part)
			part.Close()
			if err != nil {
				s.badRequest(w, http.StatusBadRequest, err.Error())
				return
			}
			continue
		}
		value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
		part.Close()
		if err != nil {
			s.badRequest(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		fields[part.FormName()] = strings.TrimSpace(string(value))
	}
	if tmp == nil {
		s.badRequest(w, http.StatusBadRequest, "file is required")
		return
	}
	account := fields["account"]
	if account == "" {
		s.badRequest(w, http.StatusBadRequest, "account is required")
		return
	}
	if !s.cfg.Allowed(tmp.contentType) {
		s.badRequest(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported file type %s", tmp.contentType))
		return
	}
	name := fields["name"]
	if name == "" {
		name = strings.TrimSuffix(tmp.filename, filepath.Ext(tmp.filename))
	}

	upload := &model.PolicyUpload{
		ID:          uuid.NewString(),
		AccountID:   account,
		Name:        name,
		FileName:    tmp.filename,
		ContentType: tmp.contentType,
	}
	upload.ObjectKey = s3storage.RawObjectKey(account, upload.ID, tmp.filename)
	if _, err := tmp.f.Seek(0, io.SeekStart); err != nil {
		s.respondError(w, r, fmt.Errorf("rewind temp file: %w", err))
		return
	}
	if err := s.deps.Files.UploadRaw(ctx, upload.ObjectKey, tmp.f, tmp.size, tmp.contentType); err != nil {
		s.respondError(w, r, fmt.Errorf("store upload: %w", err))
		return
	}
	if err := s.deps.Store.CreateUpload(ctx, upload); err != nil {
		s.respondError(w, r, fmt.Errorf("record upload: %w", err))
		return
	}
	if err := s.deps.Jobs.EnqueueParse(ctx, upload.ID); err != nil {
		if markErr := s.deps.Store.MarkUploadFailed(ctx, upload.ID, "failed to queue ingestion"); markErr != nil {
			s.log.Error().Err(markErr).Str("upload_id", upload.ID).Msg("failed to mark upload failed")
		}
		s.respondError(w, r, fmt.Errorf("enqueue parse: %w", err))
		return
	}
	s.log.Info().Str("upload_id", upload.ID).Str("account_id", account).Str("content_type", tmp.contentType).Int64("bytes", tmp.size).Msg("upload accepted")
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     upload.ID,
		"status": string(model.UploadPending),
	})
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	upload, err := s.deps.Store.GetUpload(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, upload)
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

// persistTemp streams the part to disk, enforcing the size limit, and
// settles the content type from the sniffed bytes, the declared header and
// the file extension.
func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	filename := filepath.Base(part.FileName())
	if filename == "." || filename == string(filepath.Separator) || filename == "" {
		filename = "upload"
	}
	tmpFile, err := os.CreateTemp("", "policypro-*"+filepath.Ext(filename))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	discard := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				discard()
				return nil, fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				discard()
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			discard()
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		discard()
		return nil, errors.New("empty file")
	}
	contentType := parser.Attachment{FileName: filename, ContentType: part.Header.Get("Content-Type")}.Format()
	if sniffed := http.DetectContentType(sniff); sniffed == parser.ContentTypePDF {
		contentType = sniffed
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: contentType,
		filename:    filename,
	}, nil
}
