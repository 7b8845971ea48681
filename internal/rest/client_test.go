package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sobesednik/internal/session"
)

type staticTokens string

func (s staticTokens) CurrentToken() (string, error) {
	if s == "" {
		return "", session.ErrSessionExpired
	}
	return string(s), nil
}

func TestClient_AuthorizationHeaderIsRawToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := NewClient(context.Background(), server.URL, staticTokens("tok-123"), time.Minute)
	_, err := c.Channels(context.Background())
	require.NoError(t, err)

	// Bare token, no "Bearer" prefix.
	require.Equal(t, "tok-123", gotAuth)
}

func TestClient_UnauthorizedMapsToSessionExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(context.Background(), server.URL, staticTokens("stale"), time.Minute)
	_, err := c.Users(context.Background())
	require.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestClient_LoginAndRegister(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/api/login":
			require.Equal(t, "a@x.com", body["email"])
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-login"})
		case "/api/register":
			require.Equal(t, "Ann", body["displayname"])
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-reg"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := NewClient(context.Background(), server.URL, staticTokens(""), time.Minute)

	token, err := c.Login(context.Background(), LoginRequest{Email: "a@x.com", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "tok-login", token)

	token, err = c.Register(context.Background(), RegisterRequest{Email: "a@x.com", Password: "pw", DisplayName: "Ann"})
	require.NoError(t, err)
	require.Equal(t, "tok-reg", token)
}

func TestClient_ThreadMessagesEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/threads/7/messages", r.URL.Path)
		_, _ = w.Write([]byte(`{"messages":[{"id":100,"channel_id":5,"content":"reply"}]}`))
	}))
	defer server.Close()

	c := NewClient(context.Background(), server.URL, staticTokens("tok"), time.Minute)
	messages, err := c.ThreadMessages(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, int64(100), messages[0].ID)
}

func TestClient_FileURLCached(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"downloadUrl":"https://blob/x"}`))
	}))
	defer server.Close()

	c := NewClient(context.Background(), server.URL, staticTokens("tok"), time.Minute)

	url1, err := c.FileURL(context.Background(), "uploads/x.png")
	require.NoError(t, err)
	url2, err := c.FileURL(context.Background(), "uploads/x.png")
	require.NoError(t, err)

	require.Equal(t, "https://blob/x", url1)
	require.Equal(t, url1, url2)
	require.Equal(t, int32(1), hits.Load(), "second resolution must come from cache")
}

func TestClient_FileURLLegacyField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"url":"https://blob/y"}`))
	}))
	defer server.Close()

	c := NewClient(context.Background(), server.URL, staticTokens("tok"), time.Minute)
	url, err := c.FileURL(context.Background(), "uploads/y.png")
	require.NoError(t, err)
	require.Equal(t, "https://blob/y", url)
}

func TestClient_UploadFile(t *testing.T) {
	var uploaded []byte
	var putContentType string

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/api/upload/request-url", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Filename    string `json:"filename"`
			ContentType string `json:"contentType"`
			Size        int    `json:"size"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Filename)
		require.Equal(t, ".png", req.Filename[len(req.Filename)-4:])
		require.Equal(t, "image/png", req.ContentType)

		_ = json.NewEncoder(w).Encode(map[string]string{
			"uploadUrl":   server.URL + "/blob/" + req.Filename,
			"storagePath": "uploads/" + req.Filename,
		})
	})
	mux.HandleFunc("/blob/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		putContentType = r.Header.Get("Content-Type")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		uploaded = body
	})

	// Minimal valid PNG header so the sniffer recognizes the type.
	pngData := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

	c := NewClient(context.Background(), server.URL, staticTokens("tok"), time.Minute)
	attachment, err := c.UploadFile(context.Background(), "photo.png", pngData)
	require.NoError(t, err)

	require.Equal(t, "image/png", attachment.MimeType)
	require.Equal(t, "image/png", putContentType)
	require.Equal(t, int64(len(pngData)), attachment.Size)
	require.NotEqual(t, "photo.png", attachment.Filename, "stored name must be unique")
	require.Equal(t, pngData, uploaded)
	require.Contains(t, attachment.StoragePath, "uploads/")
}

func TestClient_ErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"channel exists"}`))
	}))
	defer server.Close()

	c := NewClient(context.Background(), server.URL, staticTokens("tok"), time.Minute)
	_, err := c.CreateChannel(context.Background(), "general")
	require.Error(t, err)
	require.False(t, errors.Is(err, session.ErrSessionExpired))
	require.Contains(t, err.Error(), "channel exists")
}
