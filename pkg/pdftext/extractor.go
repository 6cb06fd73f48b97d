package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout = 20 * time.Second
	pdfMIME        = "application/pdf"
)

var (
	// ErrNotAPDF indicates the artifact does not claim to be a PDF.
	ErrNotAPDF = errors.New("artifact is not a pdf")
	// ErrExtractionUnavailable indicates the parser could not run in this environment.
	ErrExtractionUnavailable = errors.New("pdf extraction unavailable")
	// ErrExtractionFailed indicates the parser rejected the document.
	ErrExtractionFailed = errors.New("pdf extraction failed")
)

// ExtractionError describes why a document could not be parsed.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("pdf extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrExtractionFailed) match any ExtractionError.
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtractionFailed
}

// Document is a raw artifact plus the names it is known by.
type Document struct {
	// Names holds the file name, storage key, and URL; any of them ending in .pdf satisfies the suffix check.
	Names []string
	Data  []byte
}

// ParseFunc turns PDF bytes into plain text.
type ParseFunc func(data []byte) (string, error)

// Config tunes the extractor.
type Config struct {
	Timeout time.Duration
	// Parse overrides the PDF parser; nil selects the bundled one.
	Parse  ParseFunc
	Logger zerolog.Logger
}

// Extractor pulls the text layer out of PDF submissions.
type Extractor struct {
	parse   ParseFunc
	timeout time.Duration
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// NewExtractor constructs an extractor.
func NewExtractor(cfg Config) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	parse := cfg.Parse
	if parse == nil {
		parse = PlainText
	}

	return &Extractor{
		parse:   parse,
		timeout: cfg.Timeout,
		tracer:  otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/pdftext"),
		logger:  cfg.Logger.With().Str("component", "pdf_extractor").Logger(),
	}
}

// HasPDFSuffix reports whether any of the names ends in .pdf, ignoring case and query strings.
func HasPDFSuffix(names ...string) bool {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if idx := strings.IndexAny(name, "?#"); idx >= 0 {
			name = name[:idx]
		}
		if strings.HasSuffix(strings.ToLower(name), ".pdf") {
			return true
		}
	}
	return false
}

// Extract returns the plain text of doc. The result may be empty when the PDF has no text layer.
func (e *Extractor) Extract(ctx context.Context, doc Document) (string, error) {
	ctx, span := e.tracer.Start(ctx, "pdftext.extract")
	defer span.End()

	text, err := e.extract(ctx, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extract failed")
		return "", err
	}

	span.SetAttributes(attribute.Int("pdf.text_length", len(text)))
	return text, nil
}

func (e *Extractor) extract(ctx context.Context, doc Document) (string, error) {
	if !HasPDFSuffix(doc.Names...) {
		return "", ErrNotAPDF
	}
	if len(doc.Data) == 0 {
		return "", &ExtractionError{Reason: "document is empty"}
	}
	if mime := mimetype.Detect(doc.Data); !mime.Is(pdfMIME) {
		return "", &ExtractionError{Reason: fmt.Sprintf("content type %s is not a pdf", mime.String())}
	}
	if e.parse == nil {
		return "", ErrExtractionUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				e.logger.Error().Interface("panic", rec).Msg("pdf parser panicked")
				done <- result{err: fmt.Errorf("%w: parser panicked: %v", ErrExtractionUnavailable, rec)}
			}
		}()
		text, err := e.parse(doc.Data)
		done <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrExtractionUnavailable, ctx.Err())
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, ErrExtractionUnavailable) {
				return "", res.err
			}
			return "", &ExtractionError{Reason: res.err.Error(), Err: res.err}
		}
		return strings.TrimSpace(res.text), nil
	}
}

// PlainText extracts the text layer with ledongthuc/pdf.
func PlainText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}
