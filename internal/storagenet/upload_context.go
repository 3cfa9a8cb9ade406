package storagenet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// httpUploadContext uploads files against one open context. The dataset
// identifier may only be assigned by the network once the first upload
// completes, so it is captured from upload acknowledgments under a mutex.
type httpUploadContext struct {
	client    *HTTPClient
	contextID string

	mu        sync.Mutex
	datasetID string
}

func (u *httpUploadContext) Upload(ctx context.Context, filename, contentType string, payload []byte) (UploadResult, error) {
	result, err := u.upload(ctx, filename, contentType, payload)
	u.client.observe("upload_file", err)
	return result, err
}

func (u *httpUploadContext) upload(ctx context.Context, filename, contentType string, payload []byte) (UploadResult, error) {
	body, formContentType, err := buildMultipartBody(filename, contentType, payload)
	if err != nil {
		return UploadResult{}, err
	}

	url := fmt.Sprintf("%s/api/v1/uploads/%s/files", u.client.baseURL, u.contextID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", formContentType)
	u.client.authorize(req)

	resp, err := u.client.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return UploadResult{}, &StatusError{Op: "upload file", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UploadResult{}, fmt.Errorf("decode upload acknowledgment: %w", err)
	}
	if result.ContentID == "" {
		return UploadResult{}, fmt.Errorf("storage network acknowledged %s without a content id", filename)
	}

	u.mu.Lock()
	if u.datasetID == "" && result.DatasetID != "" {
		u.datasetID = result.DatasetID
	}
	u.mu.Unlock()
	return result, nil
}

func (u *httpUploadContext) DatasetID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.datasetID
}
