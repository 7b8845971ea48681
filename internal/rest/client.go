// Package rest talks to the chat REST API. The WebSocket carries live
// events; REST carries snapshots (channel list, roster, message history)
// and auth.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/c-pro/geche"

	"sobesednik/internal/models"
	"sobesednik/internal/session"
)

// tokenSource provides the current token, failing once the session is gone.
type tokenSource interface {
	CurrentToken() (string, error)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     tokenSource

	// Resolved download URLs are pre-signed and reusable for a while, so
	// they are cached with a TTL instead of hitting the API per render.
	fileURLs geche.Geche[string, string]
}

func NewClient(ctx context.Context, baseURL string, tokens tokenSource, fileURLTTL time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
		fileURLs:   geche.NewMapTTLCache[string, string](ctx, fileURLTTL, time.Minute),
	}
}

// doRequest performs one API call. Responses with status 401 map to
// session.ErrSessionExpired: an unreachable or rejecting backend is treated
// as an invalid session by the callers that need identity-critical data.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, authenticated bool) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if authenticated {
		token, err := c.tokens.CurrentToken()
		if err != nil {
			return nil, err
		}
		// The server expects the bare token, no scheme prefix.
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, session.ErrSessionExpired
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayname"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a token. The caller is responsible for
// persisting it through the session guard.
func (c *Client) Login(ctx context.Context, req LoginRequest) (string, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "/api/login", req, false)
	if err != nil {
		return "", err
	}
	var resp tokenResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Register creates an account and returns the issued token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (string, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "/api/register", req, false)
	if err != nil {
		return "", err
	}
	var resp tokenResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Channels fetches the channel list. Identity-critical: a failure here is
// indistinguishable from an invalid session and callers redirect to login.
func (c *Client) Channels(ctx context.Context) ([]models.Channel, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/api/channels", nil, true)
	if err != nil {
		return nil, err
	}
	var channels []models.Channel
	if err := json.Unmarshal(respBody, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// CreateChannel creates a channel. The new channel becomes part of
// canonical state on the next channel list fetch.
func (c *Client) CreateChannel(ctx context.Context, name string) (models.Channel, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "/api/channels", map[string]string{"name": name}, true)
	if err != nil {
		return models.Channel{}, err
	}
	var channel models.Channel
	if err := json.Unmarshal(respBody, &channel); err != nil {
		return models.Channel{}, err
	}
	return channel, nil
}

// Users fetches the full roster. Identity-critical, like Channels.
func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/api/users", nil, true)
	if err != nil {
		return nil, err
	}
	var users []models.User
	if err := json.Unmarshal(respBody, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// OpenDM returns the DM channel with the given user, creating it if needed.
func (c *Client) OpenDM(ctx context.Context, userID int64) (models.Channel, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/dm/%d", userID), nil, true)
	if err != nil {
		return models.Channel{}, err
	}
	var channel models.Channel
	if err := json.Unmarshal(respBody, &channel); err != nil {
		return models.Channel{}, err
	}
	return channel, nil
}

// ChannelMessages fetches a channel's message history.
func (c *Client) ChannelMessages(ctx context.Context, channelID int64) ([]models.Message, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/channels/%d/messages", channelID), nil, true)
	if err != nil {
		return nil, err
	}
	var messages []models.Message
	if err := json.Unmarshal(respBody, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SearchMessages runs a server-side search. The result is a frozen
// snapshot: live events never mutate it.
func (c *Client) SearchMessages(ctx context.Context, query string) ([]models.Message, error) {
	path := "/api/messages/search?query=" + url.QueryEscape(query)
	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	var messages []models.Message
	if err := json.Unmarshal(respBody, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// ThreadMessages fetches a thread's replies.
func (c *Client) ThreadMessages(ctx context.Context, threadID int64) ([]models.Message, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/threads/%d/messages", threadID), nil, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// FileURL resolves an attachment's storage path to a download URL. Results
// are TTL-cached. Failures here are secondary: the caller shows an error
// state, no navigation happens.
func (c *Client) FileURL(ctx context.Context, storagePath string) (string, error) {
	if cached, err := c.fileURLs.Get(storagePath); err == nil {
		return cached, nil
	}

	respBody, err := c.doRequest(ctx, http.MethodGet, "/api/files/"+url.PathEscape(storagePath), nil, true)
	if err != nil {
		return "", err
	}

	// The server has shipped both field names over time.
	var resp struct {
		DownloadURL string `json:"downloadUrl"`
		URL         string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", err
	}

	resolved := resp.DownloadURL
	if resolved == "" {
		resolved = resp.URL
	}
	if resolved == "" {
		return "", fmt.Errorf("no download url for %s", storagePath)
	}

	c.fileURLs.Set(storagePath, resolved)
	return resolved, nil
}
