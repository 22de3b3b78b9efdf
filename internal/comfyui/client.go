package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"comfymcp/internal/workflow"
)

// ImageExtensions lists the upload formats accepted by UploadImage.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".gif", ".bmp"}

var imageMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
}

// RequestRecorder observes every API call and its outcome.
type RequestRecorder interface {
	ObserveUpstream(operation string, err error)
}

// Client talks to one ComfyUI server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	recorder   RequestRecorder
}

// Option configures the Client during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
	recorder   RequestRecorder
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("comfyui: baseURL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("comfyui: invalid baseURL %q", baseURL)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	cfg := &clientConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{}
	if cfg.httpClient != nil {
		c := *cfg.httpClient
		httpClient = &c
	}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		recorder:   cfg.recorder,
	}, nil
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTimeout bounds every request made by the client.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return fmt.Errorf("comfyui: negative timeout %s", d)
		}
		cfg.timeout = d
		return nil
	}
}

// WithRequestRecorder reports each call's outcome.
func WithRequestRecorder(r RequestRecorder) Option {
	return func(cfg *clientConfig) error {
		cfg.recorder = r
		return nil
	}
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// do executes a request and decodes a JSON response into dst.
// Transport failures wrap ErrUnreachable; non-2xx responses are *APIError.
func (c *Client) do(ctx context.Context, method, u, operation, contentType string, body io.Reader, dst any) (err error) {
	defer func() {
		if c.recorder != nil {
			c.recorder.ObserveUpstream(operation, err)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", operation, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.logger.DebugContext(ctx, "API request", "operation", operation, "method", method, "url", u)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w at %s: %w", operation, ErrUnreachable, c.baseURL, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "API response", "operation", operation, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = resp.Status
		}
		return newAPIError(operation, resp.StatusCode, msg)
	}

	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("%s: decode response: %w", operation, err)
		}
	}
	return nil
}

// QueuePrompt submits g for execution under clientID. Validation failures
// reported by the server are returned as *RejectedError.
func (c *Client) QueuePrompt(ctx context.Context, g *workflow.Graph, clientID string) (*QueueResponse, error) {
	payload, err := json.Marshal(struct {
		Prompt   *workflow.Graph `json:"prompt"`
		ClientID string          `json:"client_id"`
	}{g, clientID})
	if err != nil {
		return nil, fmt.Errorf("queue prompt: encode: %w", err)
	}

	var out QueueResponse
	err = c.do(ctx, http.MethodPost, c.baseURL+"/prompt", "queue prompt", "application/json", bytes.NewReader(payload), &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.statusCode == http.StatusBadRequest {
			var body QueueResponse
			if json.Unmarshal([]byte(apiErr.message), &body) == nil {
				if rej := rejection(body.Error, body.NodeErrors); rej != nil {
					return nil, rej
				}
			}
			return nil, &RejectedError{Message: apiErr.message}
		}
		return nil, err
	}
	if rej := rejection(out.Error, out.NodeErrors); rej != nil {
		return nil, rej
	}
	if out.PromptID == "" {
		return nil, fmt.Errorf("queue prompt: response missing prompt_id")
	}
	c.logger.InfoContext(ctx, "prompt queued", "prompt_id", out.PromptID, "number", out.Number)
	return &out, nil
}

// History returns the history for one prompt. An unknown prompt yields an
// empty map, not an error.
func (c *Client) History(ctx context.Context, promptID string) (History, error) {
	u := c.baseURL + "/history/" + url.PathEscape(promptID)
	out := History{}
	if err := c.do(ctx, http.MethodGet, u, "get history", "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Queue returns the running and pending queues.
func (c *Client) Queue(ctx context.Context) (*QueueState, error) {
	var out QueueState
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/queue", "get queue", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SystemStats returns server and device information.
func (c *Client) SystemStats(ctx context.Context) (*SystemStats, error) {
	var out SystemStats
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/system_stats", "system stats", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.SystemStats(ctx)
	return err
}

// UploadImage sends a local image to the server's input directory. The file
// must have a supported extension and image content.
func (c *Client) UploadImage(ctx context.Context, path string) (*UploadResponse, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(ImageExtensions, ext) {
		return nil, fmt.Errorf("%w: extension %q, supported: %s",
			ErrUnsupportedImage, ext, strings.Join(ImageExtensions, ", "))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("upload image: read %s: %w", path, err)
	}
	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%w: %s has content type %s", ErrUnsupportedImage, path, mt.String())
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(path)))
	h.Set("Content-Type", imageMIME[ext])
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}

	var out UploadResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/upload/image", "upload image", mw.FormDataContentType(), &body, &out); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "image uploaded", "path", path, "name", out.Name)
	return &out, nil
}

// ViewURL returns the URL that serves an output image.
func (c *Client) ViewURL(ref ImageRef) string {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)
	return c.baseURL + "/view?" + q.Encode()
}
