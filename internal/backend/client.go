// Package backend is the REST client for the album backend: login, chat
// history, file upload, download and listing.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/albumchat/internal/message"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultHistoryPath = "/chat/history"
	maxDownloadSize    = 64 << 20
)

var (
	// ErrUnauthorized is returned for HTTP 401; the stored token is no longer valid.
	ErrUnauthorized = errors.New("unauthorized: log in again")
	// ErrLoginRejected is returned when the backend refuses the credentials.
	ErrLoginRejected = errors.New("invalid email or password")
	// ErrTooLarge is returned for downloads over the size limit.
	ErrTooLarge = errors.New("download exceeds size limit")
)

// StatusError is returned for non-2xx responses other than 401.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// envelope is the response wrapper used by every JSON endpoint.
type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// LoginResult is the payload of a successful login.
type LoginResult struct {
	Token    string `json:"token"`
	Role     string `json:"role"`
	Username string `json:"username"`
	ID       string `json:"id"`
}

// File is one entry of the user's uploaded files.
type File struct {
	Name      string    `json:"fileName"`
	ID        string    `json:"fileId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Client talks to the backend REST API.
type Client struct {
	baseURL     string
	historyPath string
	maxDownload int64
	http        *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client for baseURL (for example http://localhost:8080/api/v1).
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		historyPath: DefaultHistoryPath,
		maxDownload: maxDownloadSize,
		http:        &http.Client{Timeout: timeout},
	}
}

// SetToken sets the bearer token sent with every request except login.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SetHistoryPath overrides the chat history endpoint path.
func (c *Client) SetHistoryPath(path string) {
	if path != "" {
		c.historyPath = path
	}
}

// Login exchanges email and password for a token and the user identity.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}

	env, err := c.doJSON(ctx, http.MethodPost, "/authenticate/auth", "application/json", bytes.NewReader(body), false)
	if err != nil {
		return nil, err
	}
	if env.Message != "Success" {
		return nil, ErrLoginRejected
	}

	var res LoginResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		var loose struct {
			LoginResult
			ID json.Number `json:"id"`
		}
		if err2 := json.Unmarshal(env.Data, &loose); err2 != nil {
			return nil, fmt.Errorf("decode login response: %w", err)
		}
		res = loose.LoginResult
		res.ID = loose.ID.String()
	}
	if res.Token == "" {
		return nil, errors.New("login response carries no token")
	}
	return &res, nil
}

// FetchHistory returns the chat history in the order the backend sent it.
func (c *Client) FetchHistory(ctx context.Context) ([]message.Message, error) {
	env, err := c.doJSON(ctx, http.MethodGet, c.historyPath, "", nil, true)
	if err != nil {
		return nil, err
	}
	var wires []message.Wire
	if err := json.Unmarshal(env.Data, &wires); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	msgs := make([]message.Message, 0, len(wires))
	for _, w := range wires {
		m, err := w.ToMessage()
		if err != nil {
			return nil, fmt.Errorf("history message %s: %w", w.ID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Download fetches the content of an uploaded file.
func (c *Client) Download(ctx context.Context, mediaID string) ([]byte, string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/photos/download/"+url.PathEscape(mediaID), "", nil, true)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.ContentLength > c.maxDownload {
		return nil, "", fmt.Errorf("download %s: %d bytes: %w", mediaID, resp.ContentLength, ErrTooLarge)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, "", fmt.Errorf("read download: %w", err)
	}
	if int64(len(data)) > c.maxDownload {
		return nil, "", fmt.Errorf("download %s: %w", mediaID, ErrTooLarge)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// Upload sends a file as multipart form field "file" and returns its media id.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	env, err := c.doJSON(ctx, http.MethodPost, "/photos/upload", mw.FormDataContentType(), &buf, true)
	if err != nil {
		return "", err
	}
	id, err := parseUploadID(env.Data)
	if err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return id, nil
}

// parseUploadID accepts either a bare id or an object carrying fileId/id.
func parseUploadID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil && id != "" {
		return id, nil
	}
	var obj struct {
		FileID string `json:"fileId"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	if obj.FileID != "" {
		return obj.FileID, nil
	}
	if obj.ID != "" {
		return obj.ID, nil
	}
	return "", errors.New("no file id in response")
}

// ListFiles returns the user's files, most recently updated first.
func (c *Client) ListFiles(ctx context.Context) ([]File, error) {
	env, err := c.doJSON(ctx, http.MethodGet, "/photos/retrieveCurr", "", nil, true)
	if err != nil {
		return nil, err
	}
	var files []File
	if err := json.Unmarshal(env.Data, &files); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	slices.SortStableFunc(files, func(a, b File) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return files, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, auth bool) (*envelope, error) {
	resp, err := c.do(ctx, method, path, contentType, body, auth)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return &env, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, auth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth {
		c.mu.RLock()
		token := c.token
		c.mu.RUnlock()
		if token == "" {
			return nil, ErrUnauthorized
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}
