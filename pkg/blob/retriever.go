package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultMaxBytes     = 25 * 1024 * 1024
	defaultLocalPrefix  = "/uploads/"
)

// Reference points at a stored submission artifact.
type Reference struct {
	URL        string
	StorageKey string
}

// ObjectStore fetches objects by key from a bucket-backed storage service. Get reads at most
// maxBytes+1 bytes so the caller can reject oversized objects without buffering them whole.
type ObjectStore interface {
	Name() string
	Get(ctx context.Context, key string, maxBytes int64) ([]byte, error)
}

// Config tunes the retriever backends.
type Config struct {
	// ObjectStore is optional; nil disables the object storage branch.
	ObjectStore ObjectStore
	UploadRoot  string
	LocalPrefix string
	Timeout     time.Duration
	MaxBytes    int64
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// Retriever resolves a Reference to raw bytes.
type Retriever struct {
	store       ObjectStore
	uploadRoot  string
	localPrefix string
	timeout     time.Duration
	maxBytes    int64
	client      *http.Client
	tracer      trace.Tracer
	logger      zerolog.Logger
}

// NewRetriever builds a retriever from the supplied configuration.
func NewRetriever(cfg Config) *Retriever {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if strings.TrimSpace(cfg.LocalPrefix) == "" {
		cfg.LocalPrefix = defaultLocalPrefix
	}
	if !strings.HasSuffix(cfg.LocalPrefix, "/") {
		cfg.LocalPrefix += "/"
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return &Retriever{
		store:       cfg.ObjectStore,
		uploadRoot:  cfg.UploadRoot,
		localPrefix: cfg.LocalPrefix,
		timeout:     cfg.Timeout,
		maxBytes:    cfg.MaxBytes,
		client:      client,
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/blob"),
		logger:      cfg.Logger.With().Str("component", "blob_retriever").Logger(),
	}
}

// Fetch returns the bytes behind ref. Object storage wins when a key is present and a store
// is configured, then the local upload root, then HTTP(S).
func (r *Retriever) Fetch(parent context.Context, ref Reference) ([]byte, error) {
	ctx, span := r.tracer.Start(parent, "blob.fetch")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := strings.TrimSpace(ref.StorageKey)
	url := strings.TrimSpace(ref.URL)

	var (
		data    []byte
		err     error
		backend string
	)

	switch {
	case key != "" && r.store != nil:
		backend = BackendObjectStorage
		data, err = r.fetchObject(ctx, key)
	case r.isLocal(url):
		backend = BackendLocal
		data, err = r.fetchLocal(url)
	case isHTTP(url):
		backend = BackendHTTP
		data, err = r.fetchHTTP(ctx, url)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedReference, url)
	}

	span.SetAttributes(attribute.String("blob.backend", backend))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		r.logger.Warn().Err(err).Str("backend", backend).Msg("artifact retrieval failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("blob.size_bytes", len(data)))
	r.logger.Debug().Str("backend", backend).Int("size_bytes", len(data)).Msg("artifact retrieved")
	return data, nil
}

func (r *Retriever) fetchObject(ctx context.Context, key string) ([]byte, error) {
	data, err := r.store.Get(ctx, key, r.maxBytes)
	if err != nil {
		return nil, &RetrievalError{Backend: BackendObjectStorage, Target: key, Err: err}
	}
	if int64(len(data)) > r.maxBytes {
		return nil, &RetrievalError{Backend: BackendObjectStorage, Target: key, Err: ErrTooLarge}
	}
	return data, nil
}

func (r *Retriever) isLocal(url string) bool {
	return r.uploadRoot != "" && strings.HasPrefix(url, r.localPrefix)
}

func (r *Retriever) fetchLocal(url string) ([]byte, error) {
	name := strings.TrimPrefix(url, r.localPrefix)
	root, err := filepath.Abs(r.uploadRoot)
	if err != nil {
		return nil, &RetrievalError{Backend: BackendLocal, Target: url, Err: err}
	}

	path := filepath.Join(root, filepath.FromSlash(name))
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: path escapes upload root", ErrUnsupportedReference)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &RetrievalError{Backend: BackendLocal, Target: path, Err: err}
	}
	if info.IsDir() {
		return nil, &RetrievalError{Backend: BackendLocal, Target: path, Err: fs.ErrNotExist}
	}
	if info.Size() > r.maxBytes {
		return nil, &RetrievalError{Backend: BackendLocal, Target: path, Err: ErrTooLarge}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &RetrievalError{Backend: BackendLocal, Target: path, Err: err}
	}
	return data, nil
}

func (r *Retriever) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &RetrievalError{Backend: BackendHTTP, Target: url, Err: err}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &RetrievalError{Backend: BackendHTTP, Target: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &RetrievalError{Backend: BackendHTTP, Target: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, err := ReadLimited(resp.Body, r.maxBytes)
	if err != nil {
		return nil, &RetrievalError{Backend: BackendHTTP, Target: url, Err: err}
	}
	if int64(len(data)) > r.maxBytes {
		return nil, &RetrievalError{Backend: BackendHTTP, Target: url, Err: ErrTooLarge}
	}
	return data, nil
}

// ReadLimited reads up to maxBytes+1 bytes from r. A result longer than maxBytes means the source
// was oversized. A non-positive maxBytes reads everything.
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	return io.ReadAll(io.LimitReader(r, maxBytes+1))
}

func isHTTP(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// IsNotFound reports whether err stems from a missing artifact.
func IsNotFound(err error) bool {
	var retrieval *RetrievalError
	if errors.As(err, &retrieval) && retrieval.StatusCode == http.StatusNotFound {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}
