// Package storagenet is the HTTP client for the external content-addressed
// storage network. The vault consumes three operations: enumerating the live
// provider directory, opening an upload context scoped to one provider, and
// uploading file payloads against that context.
package storagenet

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"mediavault/internal/observability/metrics"
)

// Provider is one live entry of the storage network's provider directory.
type Provider struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
	Service     string `json:"service"`
	ServiceURL  string `json:"serviceUrl"`
}

// UploadResult is the storage network's acknowledgment for one uploaded
// file. Size may be zero when the network does not report it.
type UploadResult struct {
	ContentID string `json:"contentId"`
	Size      int64  `json:"size,omitempty"`
	DatasetID string `json:"datasetId,omitempty"`
}

// UploadContext groups the files of one request into a single logical
// dataset on the storage network. A context is opened once per batch and
// never reused across requests.
type UploadContext interface {
	// Upload sends one file payload. Safe for concurrent use within a
	// batch.
	Upload(ctx context.Context, filename, contentType string, payload []byte) (UploadResult, error)
	// DatasetID returns the dataset identifier once the network has
	// assigned one. It may be empty until at least one upload completes.
	DatasetID() string
}

// Client exposes the storage-network operations the vault depends on.
type Client interface {
	ListProviders(ctx context.Context) ([]Provider, error)
	CreateUploadContext(ctx context.Context, providerID int64) (UploadContext, error)
}

// StatusError reports a non-success HTTP response from the storage network,
// preserving the upstream body as diagnostic detail.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("storage network %s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("storage network %s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// Config controls the HTTP client used to reach the storage network gateway.
type Config struct {
	// BaseURL of the gateway, e.g. https://gateway.example.net
	BaseURL string
	// APIKey sent as a bearer token when non-empty.
	APIKey string
	// Timeout bounds every call including upload bodies. Defaults to 60s.
	Timeout time.Duration
	// CACertPath adds a custom CA to the trust pool when non-empty.
	CACertPath string
	Logger     *slog.Logger
	// Metrics counts calls per operation and result when non-nil.
	Metrics *metrics.Recorder
}

// HTTPClient is the production Client implementation.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

const defaultTimeout = 60 * time.Second

// New builds an HTTPClient for the configured gateway.
func New(cfg Config) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("storage network base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{MaxIdleConnsPerHost: 10}
	if cfg.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("load storage network CA: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger:  logger.With("component", "storagenet"),
		metrics: cfg.Metrics,
	}, nil
}

func (c *HTTPClient) observe(operation string, err error) {
	if c.metrics != nil {
		c.metrics.ObserveStorageNetworkCall(operation, err)
	}
}

// ListProviders fetches the live provider directory. The result is never
// cached; callers re-fetch per request so concurrent uploads cannot race on
// stale provider state.
func (c *HTTPClient) ListProviders(ctx context.Context) ([]Provider, error) {
	providers, err := c.listProviders(ctx)
	c.observe("list_providers", err)
	return providers, err
}

func (c *HTTPClient) listProviders(ctx context.Context) ([]Provider, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/providers", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build providers request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: "list providers", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var providers []Provider
	if err := json.NewDecoder(resp.Body).Decode(&providers); err != nil {
		return nil, fmt.Errorf("decode provider directory: %w", err)
	}
	return providers, nil
}

type createContextRequest struct {
	ProviderID int64 `json:"providerId"`
}

type createContextResponse struct {
	ContextID string `json:"contextId"`
	DatasetID string `json:"datasetId,omitempty"`
}

// CreateUploadContext opens one upload context on the chosen provider.
func (c *HTTPClient) CreateUploadContext(ctx context.Context, providerID int64) (UploadContext, error) {
	created, err := c.createUploadContext(ctx, providerID)
	c.observe("create_upload_context", err)
	return created, err
}

func (c *HTTPClient) createUploadContext(ctx context.Context, providerID int64) (UploadContext, error) {
	body, err := json.Marshal(createContextRequest{ProviderID: providerID})
	if err != nil {
		return nil, fmt.Errorf("encode context request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/uploads", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build context request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create upload context: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: "create upload context", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var created createContextResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decode upload context: %w", err)
	}
	if created.ContextID == "" {
		return nil, fmt.Errorf("storage network returned an upload context without an id")
	}
	return &httpUploadContext{client: c, contextID: created.ContextID, datasetID: created.DatasetID}, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	pool.AppendCertsFromPEM(caCert)
	return &tls.Config{RootCAs: pool}, nil
}

func readErrorBody(r io.Reader) string {
	const limit = 4 << 10
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}

func buildMultipartBody(filename, contentType string, payload []byte) (*bytes.Buffer, string, error) {
	buffer := &bytes.Buffer{}
	writer := multipart.NewWriter(buffer)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)}
	if contentType != "" {
		header["Content-Type"] = []string{contentType}
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, "", fmt.Errorf("write upload payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize upload form: %w", err)
	}
	return buffer, writer.FormDataContentType(), nil
}
