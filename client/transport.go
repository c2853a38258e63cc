package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"skyvault/models"
)

// apiClient speaks the server's upload protocol. Request timeouts come from
// the underlying http.Client; an expired timeout surfaces as an ordinary
// transport error and goes through the retry path.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// serverError is a non-2xx response that carried a well-formed error
// envelope. Transport-level failures are returned as-is instead.
type serverError struct {
	StatusCode int
	Message    string
	Data       json.RawMessage
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server rejected request (%d): %s", e.StatusCode, e.Message)
}

// retryable reports whether the failure is worth retrying the same request.
// Validation rejections (4xx) are not; server-side storage hiccups (5xx) are.
func (e *serverError) retryable() bool {
	return e.StatusCode >= 500
}

type chunkResult struct {
	ChunkIndex     int   `json:"chunk_index"`
	UploadedChunks int64 `json:"uploaded_chunks"`
	TotalChunks    int   `json:"total_chunks"`
}

type statusResult struct {
	FileID         string `json:"file_id"`
	UploadedChunks []int  `json:"uploaded_chunks"`
}

func (c *apiClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("malformed server response (%d): %w", resp.StatusCode, err)
	}

	if !env.Success {
		return &serverError{StatusCode: resp.StatusCode, Message: env.Error, Data: env.Data}
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (c *apiClient) sendChunk(ctx context.Context, s *session, chunkIndex int, data []byte) (chunkResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"file_id":      s.FileID,
		"chunk_index":  strconv.Itoa(chunkIndex),
		"total_chunks": strconv.Itoa(s.TotalChunks),
		"workspace_id": strconv.FormatUint(uint64(s.WorkspaceID), 10),
		"folder_id":    strconv.FormatUint(uint64(s.FolderID), 10),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return chunkResult{}, err
		}
	}

	part, err := writer.CreateFormFile("chunk", fmt.Sprintf("chunk_%d", chunkIndex))
	if err != nil {
		return chunkResult{}, err
	}
	if _, err := part.Write(data); err != nil {
		return chunkResult{}, err
	}
	if err := writer.Close(); err != nil {
		return chunkResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files/upload/chunk", &buf)
	if err != nil {
		return chunkResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result chunkResult
	if err := c.do(req, &result); err != nil {
		return chunkResult{}, err
	}
	return result, nil
}

func (c *apiClient) complete(ctx context.Context, s *session) (models.File, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"file_id":      s.FileID,
		"file_name":    s.FileName,
		"file_size":    s.FileSize,
		"mime_type":    s.MimeType,
		"total_chunks": s.TotalChunks,
		"workspace_id": s.WorkspaceID,
		"folder_id":    s.FolderID,
	})
	if err != nil {
		return models.File{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files/upload/complete", bytes.NewReader(payload))
	if err != nil {
		return models.File{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		File models.File `json:"file"`
	}
	if err := c.do(req, &result); err != nil {
		return models.File{}, err
	}
	return result.File, nil
}

func (c *apiClient) status(ctx context.Context, fileID string) (statusResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/files/upload/status/"+fileID, nil)
	if err != nil {
		return statusResult{}, err
	}

	var result statusResult
	if err := c.do(req, &result); err != nil {
		return statusResult{}, err
	}
	return result, nil
}

func (c *apiClient) cancel(ctx context.Context, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/files/upload/"+fileID, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}
