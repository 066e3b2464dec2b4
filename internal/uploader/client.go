package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/guildgallery/guildgallery_server/internal/session"
)

// UploadJob is the read-only projection of a server-side session consumed
// by the background worker.
type UploadJob struct {
	ID         string `json:"uploadId"`
	Status     string `json:"status"`
	Percentage int    `json:"percentage"`
	Error      string `json:"error,omitempty"`
}

func (j *UploadJob) Terminal() bool {
	switch session.Status(j.Status) {
	case session.StatusCompleted, session.StatusFailed, session.StatusCancelled:
		return true
	}
	return false
}

// Client speaks the upload HTTP surface. Transport failures and 5xx
// responses come back as *NetworkError so the transmitter knows they are
// retryable; rejections carry the server's typed error rebuilt from the
// response code.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) Initiate(ctx context.Context, req *session.InitiateRequest) (*session.InitiateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var resp session.InitiateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/uploads/initiate", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SendChunk(ctx context.Context, uploadID string, partNumber int, data io.Reader) error {
	path := "/uploads/chunk?uploadId=" + uploadID + "&index=" + strconv.Itoa(partNumber)
	return c.doJSON(ctx, http.MethodPost, path, "application/octet-stream", data, nil)
}

func (c *Client) Finalize(ctx context.Context, uploadID string) (string, error) {
	body, err := json.Marshal(&session.FinalizeRequest{UploadID: uploadID})
	if err != nil {
		return "", err
	}

	var resp session.FinalizeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/uploads/finalize", "application/json", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	return resp.FilePath, nil
}

func (c *Client) Cancel(ctx context.Context, uploadID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/uploads/"+uploadID, "", nil, nil)
}

func (c *Client) Progress(ctx context.Context, uploadID string) (*UploadJob, error) {
	var resp session.ProgressResponse
	if err := c.doJSON(ctx, http.MethodGet, "/uploads/"+uploadID+"/progress", "", nil, &resp); err != nil {
		return nil, err
	}
	return &UploadJob{
		ID:         resp.UploadID,
		Status:     string(resp.Status),
		Percentage: resp.Percentage,
		Error:      resp.Error,
	}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		return json.Unmarshal(payload, out)
	}

	return decodeError(resp.StatusCode, payload)
}

// decodeError rebuilds the server's typed rejection from the error code
// in the response body. 5xx without a storage code and unparseable bodies
// count as network failures.
func decodeError(status int, payload []byte) error {
	var errResp session.ErrorResponse
	if err := json.Unmarshal(payload, &errResp); err != nil || errResp.Code == "" {
		if status >= 500 {
			return &NetworkError{Err: fmt.Errorf("server returned status %d", status)}
		}
		return fmt.Errorf("server rejected request with status %d: %s", status, string(payload))
	}

	switch errResp.Code {
	case session.ErrCodeValidation:
		return &session.ValidationError{Reason: strings.TrimPrefix(errResp.Error, "validation failed: ")}
	case session.ErrCodeNotFound:
		return &session.SessionNotFoundError{UploadID: extractUploadID(errResp.Error)}
	case session.ErrCodeIncomplete:
		return &session.IncompleteUploadError{
			UploadID:     extractUploadID(errResp.Error),
			MissingParts: errResp.MissingParts,
		}
	case session.ErrCodeState:
		return &session.StateError{UploadID: extractUploadID(errResp.Error)}
	case session.ErrCodeStorage:
		return &session.StorageError{Op: "finalize", Err: fmt.Errorf("%s", errResp.Error)}
	default:
		return fmt.Errorf("server error (%d): %s", status, errResp.Error)
	}
}

// extractUploadID pulls the id out of the server's message; every session
// error message starts with "upload [session] <id> ...".
func extractUploadID(msg string) string {
	fields := strings.Fields(msg)
	if len(fields) >= 3 && fields[0] == "upload" {
		if fields[1] == "session" {
			return fields[2]
		}
		return fields[1]
	}
	return ""
}
