package exerciseservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTimeout = 50 * time.Second

// Config tunes the exercise service client.
type Config struct {
	Timeout                time.Duration
	OverrideSubmissionHost string
	WorkspaceRoot          string
}

// File is one file part of a grading upload. Content is closed by Upload.
type File struct {
	FieldName string
	FileName  string
	Size      int64
	Content   io.ReadCloser
}

// UploadRequest describes one grading exchange.
type UploadRequest struct {
	URL         string
	Fields      map[string][]string
	Files       []File
	APIKey      string
	MaxFileSize int64
}

// Grader performs grading exchanges with the exercise service.
type Grader interface {
	BuildServiceURL(params URLParams) (string, error)
	Upload(ctx context.Context, req UploadRequest) (Feedback, error)
}

// Client talks to the exercise service over HTTP using the fiber client.
type Client struct {
	timeout      time.Duration
	overrideHost string
	workspace    string
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
	tracer       trace.Tracer
}

// New constructs a Client.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	return &Client{
		timeout:      cfg.Timeout,
		overrideHost: cfg.OverrideSubmissionHost,
		workspace:    cfg.WorkspaceRoot,
		sanitizer:    bluemonday.UGCPolicy(),
		logger:       logger.With().Str("component", "exercise_service_client").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/astra-go-api/pkg/exerciseservice"),
	}
}

// Upload sends submission fields and files as one multipart request and interprets the response.
// Oversized files are rejected before anything is sent. File contents are always closed and the
// temporary copies removed, whatever the outcome of the remote call.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (Feedback, error) {
	defer closeFiles(req.Files)

	ctx, span := c.tracer.Start(ctx, "exercise_service.upload")
	span.SetAttributes(
		attribute.String("exercise_service.url", req.URL),
		attribute.Int("exercise_service.files", len(req.Files)),
	)
	defer span.End()

	if req.MaxFileSize > 0 {
		for _, file := range req.Files {
			if file.Size > req.MaxFileSize {
				err := &FileTooLargeError{FieldName: file.FieldName, Size: file.Size, Limit: req.MaxFileSize}
				span.SetStatus(codes.Error, "file_too_large")
				return Feedback{}, err
			}
		}
	}

	workspace, err := os.MkdirTemp(c.workspace, "astra-upload-")
	if err != nil {
		return Feedback{}, fmt.Errorf("create upload workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	paths := make([]string, 0, len(req.Files))
	for i, file := range req.Files {
		path, err := writeTempFile(workspace, i, file)
		if err != nil {
			return Feedback{}, err
		}
		paths = append(paths, path)
	}

	if err := ctx.Err(); err != nil {
		return Feedback{}, &ConnectionError{URL: req.URL, Err: err}
	}

	agent := fiber.Post(req.URL)
	agent.Timeout(c.timeout)
	if req.APIKey != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+req.APIKey)
	}
	for i, path := range paths {
		agent.SendFile(path, req.Files[i].FieldName)
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	for key, values := range req.Fields {
		for _, value := range values {
			args.Add(key, value)
		}
	}
	agent.MultipartForm(args)

	started := time.Now()
	status, body, errs := agent.Bytes()
	span.SetAttributes(attribute.Int64("exercise_service.latency_ms", time.Since(started).Milliseconds()))

	if len(errs) > 0 {
		connErr := &ConnectionError{URL: req.URL, Err: errors.Join(errs...)}
		span.RecordError(connErr)
		span.SetStatus(codes.Error, "connection_failed")
		c.logger.Warn().Err(connErr).Str("url", req.URL).Msg("exercise service unreachable")
		return Feedback{}, connErr
	}

	span.SetAttributes(attribute.Int("exercise_service.status", status))
	if status >= fiber.StatusBadRequest {
		svcErr := &ServiceError{URL: req.URL, StatusCode: status, Message: truncate(string(body), 512)}
		span.RecordError(svcErr)
		span.SetStatus(codes.Error, "service_failed")
		return Feedback{}, svcErr
	}

	feedback, err := c.ParseFeedback(body)
	if err != nil {
		svcErr := &ServiceError{URL: req.URL, StatusCode: status, Message: err.Error()}
		span.RecordError(svcErr)
		span.SetStatus(codes.Error, "malformed_feedback")
		return Feedback{}, svcErr
	}

	span.SetAttributes(attribute.Bool("exercise_service.async", feedback.Async))
	return feedback, nil
}

func writeTempFile(dir string, index int, file File) (string, error) {
	name := filepath.Base(file.FileName)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = file.FieldName
	}
	fileDir := filepath.Join(dir, fmt.Sprintf("%d", index))
	if err := os.MkdirAll(fileDir, 0o700); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(fileDir, name)

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer out.Close()

	if file.Content != nil {
		if _, err := io.Copy(out, file.Content); err != nil {
			return "", fmt.Errorf("copy upload file: %w", err)
		}
	}
	return path, nil
}

func closeFiles(files []File) {
	for _, file := range files {
		if file.Content != nil {
			_ = file.Content.Close()
		}
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
