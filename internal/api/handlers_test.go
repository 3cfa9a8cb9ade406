package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"mediavault/internal/auth"
	"mediavault/internal/i18n"
	"mediavault/internal/models"
	"mediavault/internal/storage"
	"mediavault/internal/storagenet"
)

type stubUploadContext struct {
	mu        sync.Mutex
	datasetID string
	failOn    string
	uploads   int
}

func (s *stubUploadContext) Upload(_ context.Context, filename, _ string, payload []byte) (storagenet.UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if filename == s.failOn {
		return storagenet.UploadResult{}, errors.New("upstream rejected payload")
	}
	s.uploads++
	return storagenet.UploadResult{
		ContentID: "cid-" + filename,
		Size:      int64(len(payload)),
		DatasetID: s.datasetID,
	}, nil
}

func (s *stubUploadContext) DatasetID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploads == 0 {
		return ""
	}
	return s.datasetID
}

type stubNet struct {
	mu           sync.Mutex
	providers    []storagenet.Provider
	listErr      error
	uploadCtx    *stubUploadContext
	listCalls    int
	contextCalls int
}

func (s *stubNet) ListProviders(context.Context) ([]storagenet.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.providers, nil
}

func (s *stubNet) CreateUploadContext(_ context.Context, providerID int64) (storagenet.UploadContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextCalls++
	if s.uploadCtx == nil {
		return nil, fmt.Errorf("no context for provider %d", providerID)
	}
	return s.uploadCtx, nil
}

func (s *stubNet) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls, s.contextCalls
}

func testProvider() storagenet.Provider {
	return storagenet.Provider{
		ID:         7,
		Name:       "primary",
		Active:     true,
		Service:    "s3",
		ServiceURL: "https://primary.example.net",
	}
}

func newTestHandler(t *testing.T, net *stubNet) (*Handler, *storage.Storage) {
	t.Helper()
	store, err := storage.NewJSONRepository("")
	if err != nil {
		t.Fatalf("NewJSONRepository returned error: %v", err)
	}
	bundle, err := i18n.NewBundle()
	if err != nil {
		t.Fatalf("NewBundle returned error: %v", err)
	}
	tokens, err := auth.NewTokenService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService returned error: %v", err)
	}
	h := NewHandler(store, tokens, net, func(h *Handler) {
		h.Messages = bundle
	})
	return h, store
}

func createTestUser(t *testing.T, store *storage.Storage, username, role string) models.User {
	t.Helper()
	user, err := store.CreateUser(storage.CreateUserParams{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("CreateUser(%q) returned error: %v", username, err)
	}
	return user
}

func issueToken(t *testing.T, h *Handler, user models.User) string {
	t.Helper()
	token, _, err := h.Tokens.Issue(user.ID, user.Role, user.DisplayName, 0)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	return token
}

// serve runs the request through the identity middleware and handler, the
// same chain the real server builds.
func serve(h *Handler, handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	h.IdentityMiddleware(handler).ServeHTTP(recorder, req)
	return recorder
}

type uploadFile struct {
	field       string
	filename    string
	contentType string
	payload     string
}

func newUploadRequest(t *testing.T, fields map[string]string, files []uploadFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("write field %q: %v", name, err)
		}
	}
	for _, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			`form-data; name="`+file.field+`"; filename="`+file.filename+`"`)
		contentType := file.contentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create part %q: %v", file.field, err)
		}
		if _, err := part.Write([]byte(file.payload)); err != nil {
			t.Fatalf("write part %q: %v", file.field, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

func errorReason(t *testing.T, recorder *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var resp errorResponse
	decodeBody(t, recorder, &resp)
	return resp.Error
}
