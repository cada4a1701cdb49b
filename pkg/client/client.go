// Package client is the extractor-side interface to the manager service.
//
// An Interface opens a session on construction, mirrors the records of its
// Logger to the manager, uploads artifacts and finally closes the session:
//
//	mgr, err := client.New(ctx, "sivep-extractor", "http://manager:8000")
//	if err != nil {
//		return err
//	}
//	log := mgr.Logger()
//	log.Info("download started")
//	if _, err := mgr.UploadFile(ctx, "sivep", "arbo", f, "sivep_2026-03-06.csv"); err != nil {
//		log.Error("upload failed", "error", err)
//	}
//	mgr.CloseSession(ctx, types.StatusCompleted)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/epimonitor/manager/pkg/types"
)

// Environment variables read by NewFromEnv.
const (
	EnvEndpoint = "MANAGER_ENDPOINT"
	EnvAPIKey   = "MANAGER_API_KEY"
)

// apiKeyHeader carries the shared API key.
const apiKeyHeader = "X-API-Key"

// APIError is a non-2xx response from the manager.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("manager: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("manager: %d: %s", e.StatusCode, e.Message)
}

// Interface is one extractor run's connection to the manager.
type Interface struct {
	appName    string
	endpoint   string
	sessionID  string
	apiKey     string
	httpClient *http.Client
	fallback   io.Writer
	local      slog.Handler
	logger     *slog.Logger
	now        func() time.Time
	closed     atomic.Bool
}

// Option customizes an Interface.
type Option func(*Interface)

// WithHTTPClient sets the HTTP client used for every call.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Interface) { i.httpClient = c }
}

// WithAPIKey sends key in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(i *Interface) { i.apiKey = key }
}

// WithFallback sets where log mirroring failures are reported.
// Defaults to os.Stderr.
func WithFallback(w io.Writer) Option {
	return func(i *Interface) { i.fallback = w }
}

// WithLocalHandler sets the handler records are written to locally, in
// addition to being mirrored. Defaults to text on os.Stderr at DEBUG.
func WithLocalHandler(h slog.Handler) Option {
	return func(i *Interface) { i.local = h }
}

// New opens a session for appName on the manager at endpoint. A failure to
// open the session is returned; no Interface is created.
func New(ctx context.Context, appName, endpoint string, opts ...Option) (*Interface, error) {
	i := &Interface{
		appName:    appName,
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		fallback:   os.Stderr,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.local == nil {
		i.local = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level:       slog.LevelDebug,
			ReplaceAttr: ReplaceLevel,
		})
	}

	sessionID, err := i.openSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session for %s: %w", appName, err)
	}
	i.sessionID = sessionID
	i.logger = slog.New(newMirrorHandler(i, i.local))
	return i, nil
}

// NewFromEnv is New with the endpoint and API key taken from
// MANAGER_ENDPOINT and MANAGER_API_KEY.
func NewFromEnv(ctx context.Context, appName string, opts ...Option) (*Interface, error) {
	endpoint := os.Getenv(EnvEndpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%s is not set", EnvEndpoint)
	}
	if key := os.Getenv(EnvAPIKey); key != "" {
		opts = append([]Option{WithAPIKey(key)}, opts...)
	}
	return New(ctx, appName, endpoint, opts...)
}

// SessionID returns the id of the open session.
func (i *Interface) SessionID() string { return i.sessionID }

// AppName returns the name the session was opened with.
func (i *Interface) AppName() string { return i.appName }

// Logger returns the mirrored logger. Records at INFO and above are sent to
// the manager; DEBUG records stay local.
func (i *Interface) Logger() *slog.Logger { return i.logger }

// Closed reports whether CloseSession has succeeded at least once.
func (i *Interface) Closed() bool { return i.closed.Load() }

// UploadFile sends content as filename for organization and project.
func (i *Interface) UploadFile(ctx context.Context, organization, project string, content io.Reader, filename string) (*types.FileRecord, error) {
	query := url.Values{}
	query.Set("session_id", i.sessionID)
	query.Set("organization", organization)
	query.Set("project", project)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint+"/file?"+query.Encode(), pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var record types.FileRecord
	if err := i.do(req, &record); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return &record, nil
}

// CloseSession sets the session status (COMPLETED when empty) and its end
// time. Calling it again re-applies the update.
func (i *Interface) CloseSession(ctx context.Context, status string) (*types.Session, error) {
	if status == "" {
		status = types.StatusCompleted
	}
	end := i.now()

	var session types.Session
	err := i.doJSON(ctx, http.MethodPut, "/status", types.StatusUpdate{
		SessionID: i.sessionID,
		Status:    status,
		End:       &end,
	}, &session)
	if err != nil {
		return nil, err
	}
	i.closed.Store(true)
	return &session, nil
}

func (i *Interface) openSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		i.endpoint+"/log?"+url.Values{"app_name": {i.appName}}.Encode(), nil)
	if err != nil {
		return "", err
	}
	var resp types.OpenSessionResponse
	if err := i.do(req, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("manager returned an empty session id")
	}
	return resp.SessionID, nil
}

// appendLog sends one log event.
func (i *Interface) appendLog(ctx context.Context, level types.Level, message string) error {
	return i.doJSON(ctx, http.MethodPost, "/log", types.LogRequest{
		SessionID: i.sessionID,
		AppName:   i.appName,
		Level:     level,
		Message:   message,
	}, nil)
}

func (i *Interface) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, i.endpoint+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return i.do(req, out)
}

func (i *Interface) do(req *http.Request, out interface{}) error {
	if i.apiKey != "" {
		req.Header.Set(apiKeyHeader, i.apiKey)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Error     string `json:"error"`
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Code = payload.Code
		apiErr.RequestID = payload.RequestID
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

// Critical logs msg at LevelCritical. The manager marks the session
// FINISHED_WITH_ERRORS when it receives the record.
func (i *Interface) Critical(msg string, args ...any) {
	i.logger.Log(context.Background(), LevelCritical, msg, args...)
}
