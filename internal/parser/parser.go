// Package parser turns uploaded policy files into clean markdown plus an
// optional publication date. It never returns partial content: any failure
// along the way yields ok=false.
package parser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/PolicyPro/internal/llm"
	"github.com/dharsanguruparan/PolicyPro/internal/metrics"
	"github.com/dharsanguruparan/PolicyPro/internal/model"
	pdfutil "github.com/dharsanguruparan/PolicyPro/internal/pdf"
	"github.com/dharsanguruparan/PolicyPro/internal/prompts"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeDoc  = "application/msword"
	ContentTypeODT  = "application/vnd.oasis.opendocument.text"
	ContentTypeRTF  = "application/rtf"
)

// pandoc input format per word-processor content type.
var pandocFormats = map[string]string{
	ContentTypeDocx: "docx",
	ContentTypeDoc:  "docx",
	ContentTypeODT:  "odt",
	ContentTypeRTF:  "rtf",
}

var extensionTypes = map[string]string{
	".pdf":  ContentTypePDF,
	".docx": ContentTypeDocx,
	".doc":  ContentTypeDoc,
	".odt":  ContentTypeODT,
	".rtf":  ContentTypeRTF,
}

var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrEmptyConversion = errors.New("conversion produced no text")
	ErrPageMismatch    = errors.New("rasterized page count does not match the pdf")
)

// Attachment is a file on local disk awaiting ingestion.
type Attachment struct {
	Path        string
	FileName    string
	ContentType string
}

// Format returns the normalised content type, falling back to the file
// extension for generic types.
func (a Attachment) Format() string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(a.ContentType, ";", 2)[0]))
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	name := a.FileName
	if name == "" {
		name = a.Path
	}
	return extensionTypes[strings.ToLower(filepath.Ext(name))]
}

// Options configures a Parser. Zero values fall back to sensible defaults.
type Options struct {
	PandocPath   string
	PdftoppmPath string
	DPI          int
	Runner       Runner
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

// Parser is the ingestion pipeline.
type Parser struct {
	llm      llm.Completer
	prompts  prompts.Set
	runner   Runner
	pandoc   string
	pdftoppm string
	dpi      int
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// New constructs a Parser.
func New(completer llm.Completer, set prompts.Set, opts Options) *Parser {
	p := &Parser{
		llm:      completer,
		prompts:  set,
		runner:   opts.Runner,
		pandoc:   opts.PandocPath,
		pdftoppm: opts.PdftoppmPath,
		dpi:      opts.DPI,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
	if p.runner == nil {
		p.runner = ExecRunner{}
	}
	if p.pandoc == "" {
		p.pandoc = "pandoc"
	}
	if p.pdftoppm == "" {
		p.pdftoppm = "pdftoppm"
	}
	if p.dpi <= 0 {
		p.dpi = 150
	}
	return p
}

// Parse converts and sanitizes the attachment. Failures are logged and
// reported as ok=false; they never propagate.
func (p *Parser) Parse(ctx context.Context, att Attachment) (model.Ingested, bool) {
	format := att.Format()
	log := p.log.With().Str("file", att.FileName).Str("content_type", format).Logger()

	raw, err := p.Convert(ctx, att)
	if err != nil {
		log.Error().Err(err).Msg("document conversion failed")
		p.metrics.RecordIngestion(formatLabel(format), "failed")
		return model.Ingested{}, false
	}
	result, err := p.SanitizeAndExtract(ctx, raw)
	if err != nil {
		log.Error().Err(err).Msg("sanitize and extract failed")
		p.metrics.RecordIngestion(formatLabel(format), "failed")
		return model.Ingested{}, false
	}
	log.Info().Int("bytes", len(result.Content)).Bool("published_at", result.PublishedAt != nil).Msg("document parsed")
	p.metrics.RecordIngestion(formatLabel(format), "completed")
	return result, true
}

func formatLabel(ct string) string {
	switch {
	case ct == ContentTypePDF:
		return "pdf"
	case pandocFormats[ct] != "":
		return "word"
	default:
		return "unsupported"
	}
}

// Convert produces raw markdown for the attachment.
func (p *Parser) Convert(ctx context.Context, att Attachment) (string, error) {
	format := att.Format()
	var (
		text string
		err  error
	)
	switch {
	case format == ContentTypePDF:
		text, err = p.convertPDF(ctx, att.Path)
	case pandocFormats[format] != "":
		text, err = p.convertWord(ctx, att.Path, pandocFormats[format])
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, att.ContentType)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyConversion
	}
	return text, nil
}

func (p *Parser) convertWord(ctx context.Context, path, from string) (string, error) {
	out, err := p.runner.Run(ctx, p.pandoc, "-f", from, "-t", "markdown", path)
	if err != nil {
		return "", fmt.Errorf("pandoc: %w", err)
	}
	return string(out), nil
}

func (p *Parser) convertPDF(ctx context.Context, path string) (string, error) {
	dir, err := os.MkdirTemp("", "policypro-pages-*")
	if err != nil {
		return "", fmt.Errorf("create page dir: %w", err)
	}
	defer os.RemoveAll(dir)

	images, err := p.Rasterize(ctx, path, dir)
	if err != nil {
		return "", err
	}
	return p.Transcribe(ctx, images)
}

var pageNumber = regexp.MustCompile(`-(\d+)\.png$`)

// Rasterize renders every page of the pdf at path into dir and returns the
// page images in page order.
func (p *Parser) Rasterize(ctx context.Context, path, dir string) ([]string, error) {
	if _, err := p.runner.Run(ctx, p.pdftoppm, "-png", "-r", strconv.Itoa(p.dpi), path, filepath.Join(dir, "page")); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w", err)
	}
	images, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, fmt.Errorf("list page images: %w", err)
	}
	if len(images) == 0 {
		return nil, ErrEmptyConversion
	}
	sort.Slice(images, func(i, j int) bool { return pageIndex(images[i]) < pageIndex(images[j]) })

	if f, err := os.Open(path); err == nil {
		pages, perr := pdfutil.PageCountFromReader(f)
		f.Close()
		if perr != nil {
			p.log.Debug().Err(perr).Msg("page count unavailable, skipping cross-check")
		} else if pages != len(images) {
			return nil, fmt.Errorf("%w: %d pages, %d images", ErrPageMismatch, pages, len(images))
		}
	}
	return images, nil
}

func pageIndex(path string) int {
	m := pageNumber.FindStringSubmatch(path)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// Transcribe sends the ordered page images to the vision model.
func (p *Parser) Transcribe(ctx context.Context, images []string) (string, error) {
	parts := []llm.ContentPart{llm.TextPart(strings.TrimSpace(p.prompts.Transcribe.System))}
	for _, img := range images {
		data, err := os.ReadFile(img)
		if err != nil {
			return "", fmt.Errorf("read page image: %w", err)
		}
		parts = append(parts, llm.ImagePart("data:image/png;base64,"+base64.StdEncoding.EncodeToString(data)))
	}
	resp, err := p.llm.Complete(ctx, llm.Request{
		Model:     p.prompts.Transcribe.Model,
		Messages:  []llm.Message{{Role: llm.RoleUser, Parts: parts}},
		MaxTokens: p.prompts.Transcribe.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe pages: %w", err)
	}
	return llm.StripFence(resp.Message.Content), nil
}

type sanitized struct {
	PublishedAt *string `json:"published_at"`
	Content     *string `json:"content"`
}

// SanitizeAndExtract cleans converter output and pulls the publication
// date from the header.
func (p *Parser) SanitizeAndExtract(ctx context.Context, raw string) (model.Ingested, error) {
	resp, err := p.llm.Complete(ctx, llm.Request{
		Model: p.prompts.Sanitize.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: p.prompts.Sanitize.System},
			{Role: llm.RoleUser, Content: raw},
		},
		MaxTokens: p.prompts.Sanitize.MaxTokens,
	})
	if err != nil {
		return model.Ingested{}, fmt.Errorf("sanitize request: %w", err)
	}
	var out sanitized
	if err := llm.DecodeJSON(resp.Message.Content, &out); err != nil {
		return model.Ingested{}, fmt.Errorf("decode sanitize response: %w", err)
	}
	if out.Content == nil || strings.TrimSpace(*out.Content) == "" {
		return model.Ingested{}, ErrEmptyConversion
	}
	result := model.Ingested{Content: strings.TrimSpace(*out.Content)}
	if out.PublishedAt != nil {
		if d, ok := ParseDate(*out.PublishedAt); ok {
			result.PublishedAt = &d
		} else {
			p.log.Warn().Str("published_at", *out.PublishedAt).Msg("ignoring unparseable publication date")
		}
	}
	return result, nil
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", "02/01/2006", "2 January 2006", "January 2, 2006"}

// ParseDate reads a publication date in one of the accepted layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
