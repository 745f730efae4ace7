package exerciseservice

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type trackingReader struct {
	io.Reader
	closed bool
}

func (r *trackingReader) Close() error {
	r.closed = true
	return nil
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = t.TempDir()
	}
	return New(cfg, zerolog.Nop())
}

func TestBuildServiceURL(t *testing.T) {
	client := newTestClient(t, Config{})

	raw, err := client.BuildServiceURL(URLParams{
		ServiceURL:    "https://grader.example.com/course/ex1/",
		SubmissionURL: "https://lms.example.com/async/grade/10?hash=abc",
		PostURL:       "https://lms.example.com/exercises/4/submissions",
		MaxPoints:     100,
		UserIDs:       []uint{3, 8},
		Ordinal:       2,
		Language:      "en",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "https://grader.example.com/course/ex1/?"))
	require.Contains(t, raw, "uid=3-8")
	require.Contains(t, raw, "ordinal_number=2")
	require.Contains(t, raw, "max_points=100")
	require.Contains(t, raw, "lang=en")
	require.Contains(t, raw, "submission_url=https%3A%2F%2Flms.example.com%2Fasync%2Fgrade%2F10%3Fhash%3Dabc")

	_, err = client.BuildServiceURL(URLParams{ServiceURL: "not a url"})
	require.Error(t, err)
}

func TestBuildServiceURLOverridesSubmissionHost(t *testing.T) {
	client := newTestClient(t, Config{OverrideSubmissionHost: "http://internal:8080/"})

	raw, err := client.BuildServiceURL(URLParams{
		ServiceURL:    "https://grader.example.com/ex",
		SubmissionURL: "https://lms.example.com/async/grade/10?hash=abc#frag",
		UserIDs:       []uint{1},
	})
	require.NoError(t, err)
	require.Contains(t, raw, "submission_url=http%3A%2F%2Finternal%3A8080%2Fasync%2Fgrade%2F10%3Fhash%3Dabc%23frag")

	overridden, err := OverrideHost("https://lms.example.com", "http://internal")
	require.NoError(t, err)
	require.Equal(t, "http://internal/", overridden)
}

func TestUploadSynchronousFeedback(t *testing.T) {
	var gotAuth, gotField, gotFile, gotFileName string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotField = r.FormValue("answer")
		file, header, err := r.FormFile("solution")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotFile = string(data)
		gotFileName = header.Filename

		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><head><meta name="status" value="graded"><meta name="points" value="30"><meta name="max-points" value="60"></head><body><p>Good work</p><script>alert(1)</script></body></html>`)
	}))
	defer server.Close()

	content := &trackingReader{Reader: strings.NewReader("print('hi')")}
	client := newTestClient(t, Config{Timeout: time.Second})
	feedback, err := client.Upload(context.Background(), UploadRequest{
		URL:         server.URL,
		Fields:      map[string][]string{"answer": {"42"}},
		Files:       []File{{FieldName: "solution", FileName: "main.py", Size: 11, Content: content}},
		APIKey:      "secret-key",
		MaxFileSize: 1024,
	})
	require.NoError(t, err)
	require.False(t, feedback.Async)
	require.Equal(t, StatusGraded, feedback.Status)
	require.Equal(t, 30, feedback.Points)
	require.Equal(t, 60, feedback.MaxPoints)
	require.Contains(t, feedback.HTML, "Good work")
	require.NotContains(t, feedback.HTML, "<script>")

	require.Equal(t, "Bearer secret-key", gotAuth)
	require.Equal(t, "42", gotField)
	require.Equal(t, "print('hi')", gotFile)
	require.Equal(t, "main.py", gotFileName)
	require.True(t, content.closed)
}

func TestUploadAsynchronousAcknowledgement(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"accepted","wait":true,"feedback":"queued"}`)
	}))
	defer server.Close()

	client := newTestClient(t, Config{Timeout: time.Second})
	feedback, err := client.Upload(context.Background(), UploadRequest{URL: server.URL})
	require.NoError(t, err)
	require.True(t, feedback.Async)
	require.Equal(t, StatusAccepted, feedback.Status)
}

func TestUploadRejectsOversizedFileWithoutCallingService(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	content := &trackingReader{Reader: strings.NewReader(strings.Repeat("x", 64))}
	client := newTestClient(t, Config{Timeout: time.Second})
	_, err := client.Upload(context.Background(), UploadRequest{
		URL:         server.URL,
		Files:       []File{{FieldName: "big", FileName: "big.txt", Size: 64, Content: content}},
		MaxFileSize: 10,
	})
	require.ErrorIs(t, err, ErrFileTooLarge)
	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
	require.True(t, content.closed)
}

func TestUploadServiceErrorAndMalformedPayload(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()

	client := newTestClient(t, Config{Timeout: time.Second})
	_, err := client.Upload(context.Background(), UploadRequest{URL: failing.URL})
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	require.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)

	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":`)
	}))
	defer malformed.Close()

	_, err = client.Upload(context.Background(), UploadRequest{URL: malformed.URL})
	require.True(t, errors.As(err, &svcErr))
}

func TestUploadTimeoutIsConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	workspace := t.TempDir()
	client := newTestClient(t, Config{Timeout: 50 * time.Millisecond, WorkspaceRoot: workspace})
	_, err := client.Upload(context.Background(), UploadRequest{
		URL:   server.URL,
		Files: []File{{FieldName: "f", FileName: "a.txt", Size: 1, Content: io.NopCloser(strings.NewReader("a"))}},
	})
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))

	entries, readErr := os.ReadDir(workspace)
	require.NoError(t, readErr)
	require.Empty(t, entries, "temporary upload files must be removed")
}

func TestParseFeedbackStatuses(t *testing.T) {
	client := newTestClient(t, Config{})

	_, err := client.ParseFeedback([]byte(`{"status":"error","feedback":"grader crashed"}`))
	require.Error(t, err)

	_, err = client.ParseFeedback([]byte(`<html><body>nothing here</body></html>`))
	require.Error(t, err)

	feedback, err := client.ParseFeedback([]byte(`{"points":7,"max_points":10,"grading_data":{"tests":3}}`))
	require.NoError(t, err)
	require.Equal(t, 7, feedback.Points)
	require.Equal(t, float64(3), feedback.GradingData["tests"])
}
