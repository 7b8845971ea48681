package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"sobesednik/internal/models"
)

type uploadTicket struct {
	UploadURL   string `json:"uploadUrl"`
	StoragePath string `json:"storagePath"`
}

// UploadFile pushes file data to blob storage: request a pre-signed URL,
// PUT the bytes, return the attachment record to hang off an outgoing
// message. The stored name is a fresh UUID with the original extension so
// uploads never collide.
func (c *Client) UploadFile(ctx context.Context, filename string, data []byte) (models.Attachment, error) {
	mimeType := sniffMimeType(data)
	storedName := uuid.NewString() + filepath.Ext(filename)

	respBody, err := c.doRequest(ctx, http.MethodPost, "/api/upload/request-url", map[string]any{
		"filename":    storedName,
		"contentType": mimeType,
		"size":        len(data),
	}, true)
	if err != nil {
		return models.Attachment{}, err
	}

	var ticket uploadTicket
	if err := json.Unmarshal(respBody, &ticket); err != nil {
		return models.Attachment{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, ticket.UploadURL, bytes.NewReader(data))
	if err != nil {
		return models.Attachment{}, err
	}
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Attachment{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return models.Attachment{}, fmt.Errorf("upload failed with status %d", resp.StatusCode)
	}

	return models.Attachment{
		Filename:    storedName,
		MimeType:    mimeType,
		Size:        int64(len(data)),
		StoragePath: ticket.StoragePath,
	}, nil
}

// sniffMimeType detects the content type from the file's magic bytes,
// falling back to a generic binary type for anything unrecognized.
func sniffMimeType(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}
