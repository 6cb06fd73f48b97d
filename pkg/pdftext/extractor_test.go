package pdftext

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

func newTestExtractor(parse ParseFunc) *Extractor {
	return NewExtractor(Config{Parse: parse, Timeout: 200 * time.Millisecond, Logger: zerolog.Nop()})
}

func TestHasPDFSuffix(t *testing.T) {
	require.True(t, HasPDFSuffix("essay.PDF"))
	require.True(t, HasPDFSuffix("", "https://cdn.example.com/a/essay.pdf?sig=abc"))
	require.False(t, HasPDFSuffix("essay.docx", "submissions/essay"))
	require.False(t, HasPDFSuffix())
}

func TestExtractRejectsNonPDFNames(t *testing.T) {
	called := false
	extractor := newTestExtractor(func([]byte) (string, error) {
		called = true
		return "", nil
	})

	_, err := extractor.Extract(context.Background(), Document{Names: []string{"answer.docx"}, Data: pdfBytes})
	require.ErrorIs(t, err, ErrNotAPDF)
	require.False(t, called)
}

func TestExtractRejectsMislabelledContent(t *testing.T) {
	extractor := newTestExtractor(func([]byte) (string, error) { return "x", nil })

	_, err := extractor.Extract(context.Background(), Document{Names: []string{"answer.pdf"}, Data: []byte("just some text")})
	require.ErrorIs(t, err, ErrExtractionFailed)
	require.False(t, errors.Is(err, ErrNotAPDF))
}

func TestExtractReturnsTrimmedText(t *testing.T) {
	extractor := newTestExtractor(func([]byte) (string, error) { return "  photosynthesis converts light  \n", nil })

	text, err := extractor.Extract(context.Background(), Document{Names: []string{"answer.pdf"}, Data: pdfBytes})
	require.NoError(t, err)
	require.Equal(t, "photosynthesis converts light", text)
}

func TestExtractAllowsEmptyText(t *testing.T) {
	extractor := newTestExtractor(func([]byte) (string, error) { return "", nil })

	text, err := extractor.Extract(context.Background(), Document{Names: []string{"scan.pdf"}, Data: pdfBytes})
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestExtractParserErrorIsExtractionFailed(t *testing.T) {
	extractor := newTestExtractor(func([]byte) (string, error) { return "", errors.New("malformed xref table") })

	_, err := extractor.Extract(context.Background(), Document{Names: []string{"answer.pdf"}, Data: pdfBytes})
	require.ErrorIs(t, err, ErrExtractionFailed)

	var extraction *ExtractionError
	require.ErrorAs(t, err, &extraction)
	require.Contains(t, extraction.Reason, "malformed xref")
}

func TestExtractRecoversParserPanic(t *testing.T) {
	extractor := newTestExtractor(func([]byte) (string, error) { panic("DOMMatrix is not defined") })

	_, err := extractor.Extract(context.Background(), Document{Names: []string{"answer.pdf"}, Data: pdfBytes})
	require.ErrorIs(t, err, ErrExtractionUnavailable)
	require.False(t, errors.Is(err, ErrExtractionFailed))
}

func TestExtractTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	extractor := newTestExtractor(func([]byte) (string, error) {
		<-release
		return "late", nil
	})

	_, err := extractor.Extract(context.Background(), Document{Names: []string{"answer.pdf"}, Data: pdfBytes})
	require.ErrorIs(t, err, ErrExtractionUnavailable)
}

func TestPlainTextRejectsGarbage(t *testing.T) {
	_, err := PlainText([]byte("%PDF-1.4 truncated"))
	require.Error(t, err)
}
