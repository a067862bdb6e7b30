// Package api is the REST client for the mulyachat backend collaborators:
// the user directory, the message history store, the online-users snapshot
// and file transfer. Failures surface as errors; callers degrade to empty
// or stale data rather than halting (the session core never treats a
// collaborator failure as fatal).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mulyachat/mulyachat/pkg/wire"
)

// Client talks to the backend REST surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL (scheme://host[:port]).
func NewClient(baseURL string) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("base URL %q needs scheme and host", baseURL)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// ListAllUsers fetches the full user directory, used to resolve sender
// identity during auto-discovery and search.
func (c *Client) ListAllUsers(ctx context.Context) ([]wire.User, error) {
	var users []wire.User
	if err := c.getJSON(ctx, "/api/users/all", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Login marks the user's session online before the socket connects.
func (c *Client) Login(ctx context.Context, userID string) error {
	body, err := json.Marshal(map[string]string{"userId": userID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/chat/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// BroadcastHistory fetches the shared channel's recent messages. The
// backend returns newest-first; the result is reversed into chronological
// order for display.
func (c *Client) BroadcastHistory(ctx context.Context, limit int) ([]wire.Message, error) {
	var messages []wire.Message
	path := "/api/messages?limit=" + strconv.Itoa(limit)
	if err := c.getJSON(ctx, path, &messages); err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

// DirectHistory fetches the recent messages between two users, in
// chronological order.
func (c *Client) DirectHistory(ctx context.Context, userA, userB string, limit int) ([]wire.Message, error) {
	var messages []wire.Message
	path := fmt.Sprintf("/api/messages/direct?user1=%s&user2=%s&limit=%d",
		url.QueryEscape(userA), url.QueryEscape(userB), limit)
	if err := c.getJSON(ctx, path, &messages); err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

// OnlineUsers fetches the full presence snapshot.
func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.getJSON(ctx, "/api/users/online", &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// UploadFile streams one file to the backend and returns the file id the
// backend assigned. recipientID is empty for broadcast scope.
func (c *Client) UploadFile(ctx context.Context, fileName, senderID, recipientID string, content io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("read upload content: %w", err)
	}
	if err := mw.WriteField("senderId", senderID); err != nil {
		return "", err
	}
	if recipientID != "" {
		if err := mw.WriteField("recipientId", recipientID); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/files/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload: unexpected status %d", resp.StatusCode)
	}

	id, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	return strings.TrimSpace(string(id)), nil
}

// DownloadFile copies a stored file's content into w.
func (c *Client) DownloadFile(ctx context.Context, fileID string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode response: %w", path, err)
	}
	return nil
}

func reverse(messages []wire.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
