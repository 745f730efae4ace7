package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// CloudinaryConfig contains credentials required to talk to Cloudinary.
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// CloudinaryStore keeps submitted files as raw Cloudinary assets. Keys are public ids.
type CloudinaryStore struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// NewCloudinaryStore constructs a Cloudinary backed store.
func NewCloudinaryStore(cfg CloudinaryConfig, logger zerolog.Logger) (*CloudinaryStore, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &CloudinaryStore{
		client: cld,
		folder: strings.Trim(cfg.Folder, "/"),
		logger: logger.With().Str("component", "cloudinary_store").Logger(),
	}, nil
}

func (s *CloudinaryStore) publicID(key string) string {
	key = strings.Trim(key, "/")
	if s.folder == "" || strings.HasPrefix(key, s.folder+"/") {
		return key
	}
	return s.folder + "/" + key
}

func (s *CloudinaryStore) Store(ctx context.Context, key string, reader io.Reader) (string, error) {
	overwrite := true
	result, err := s.client.Upload.Upload(ctx, reader, uploader.UploadParams{
		PublicID:     s.publicID(key),
		ResourceType: "raw",
		Overwrite:    &overwrite,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload asset: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("failed to upload asset: %s", result.Error.Message)
	}

	s.logger.Info().Str("public_id", result.PublicID).Msg("submission file uploaded to cloudinary")
	return result.PublicID, nil
}

func (s *CloudinaryStore) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	asset, err := s.client.File(s.publicID(key))
	if err != nil {
		return nil, fmt.Errorf("build asset url: %w", err)
	}
	assetURL, err := asset.String()
	if err != nil {
		return nil, fmt.Errorf("build asset url: %w", err)
	}

	status, body, errs := fiber.Get(assetURL).Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("download asset: %v", errs[0])
	}
	if status == fiber.StatusNotFound {
		return nil, ErrNotFound
	}
	if status >= fiber.StatusBadRequest {
		return nil, fmt.Errorf("download asset: status %d", status)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (s *CloudinaryStore) Delete(ctx context.Context, key string) error {
	result, err := s.client.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     s.publicID(key),
		ResourceType: "raw",
	})
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if result.Error.Message != "" {
		return fmt.Errorf("failed to delete asset: %s", result.Error.Message)
	}
	return nil
}
