package cloudinary

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/gema-grading-api/pkg/blob"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	// AssetType is the Cloudinary resource type submissions are stored under ("image" or "raw").
	AssetType string
}

// Enabled reports whether the credentials are complete.
func (c Config) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// Store resolves submission artifacts stored in Cloudinary by public ID.
type Store struct {
	client    *cloudinary.Cloudinary
	folder    string
	assetType api.AssetType
	http      *http.Client
	logger    zerolog.Logger
}

// New constructs a Cloudinary store. It returns (nil, nil) when credentials are absent.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	assetType := api.AssetType(strings.ToLower(strings.TrimSpace(cfg.AssetType)))
	if assetType == "" {
		assetType = api.Image
	}

	return &Store{
		client:    cld,
		folder:    strings.Trim(cfg.Folder, "/"),
		assetType: assetType,
		http:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:    logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// Name identifies the backend in logs.
func (s *Store) Name() string {
	return "cloudinary"
}

// Get looks up the asset's secure URL through the Admin API and downloads it.
func (s *Store) Get(ctx context.Context, key string, maxBytes int64) ([]byte, error) {
	publicID := s.publicID(key)

	asset, err := s.client.Admin.Asset(ctx, admin.AssetParams{
		AssetType: s.assetType,
		PublicID:  publicID,
	})
	if err != nil {
		return nil, fmt.Errorf("cloudinary asset lookup: %w", err)
	}
	if asset.Error.Message != "" {
		return nil, fmt.Errorf("cloudinary asset lookup: %s", asset.Error.Message)
	}
	if asset.SecureURL == "" {
		return nil, fmt.Errorf("cloudinary asset %q has no delivery url", publicID)
	}

	data, err := s.download(ctx, asset.SecureURL, maxBytes)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("public_id", publicID).Msg("asset downloaded from cloudinary")
	return data, nil
}

func (s *Store) download(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudinary download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cloudinary download: unexpected status %s", resp.Status)
	}

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, blob.ErrTooLarge
	}
	return blob.ReadLimited(resp.Body, maxBytes)
}

func (s *Store) publicID(key string) string {
	key = strings.Trim(strings.TrimSpace(key), "/")
	// image-type public IDs never carry the file extension
	if s.assetType == api.Image {
		key = strings.TrimSuffix(key, path.Ext(key))
	}
	if s.folder == "" || strings.HasPrefix(key, s.folder+"/") {
		return key
	}
	return s.folder + "/" + key
}
