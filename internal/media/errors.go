// Package media implements the upload ingestion pipeline: streaming
// multipart collection, metadata normalization, and the storage-network
// orchestration that turns a validated batch into persisted file records.
package media

import "fmt"

// Reason keys carried by pipeline errors. The API boundary localizes these
// for the caller; code paths only ever deal in the stable keys.
const (
	ReasonFileRequired    = "upload.file_required"
	ReasonTooManyFiles    = "upload.too_many_files"
	ReasonFileTooLarge    = "upload.file_too_large"
	ReasonTypeNotAllowed  = "upload.type_not_allowed"
	ReasonMalformedForm   = "upload.malformed_form"
	ReasonMetadataInvalid = "upload.metadata_invalid"
	ReasonProviderInvalid = "upload.provider_invalid"
	ReasonUploadFailed    = "upload.failed"
)

// RequestError is a client-input failure detected before any storage-network
// side effect. Reason is a stable lookup key; Detail is free-form diagnostic
// text that is only surfaced outside production deployments.
type RequestError struct {
	Reason string
	Detail string
}

func (e *RequestError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// UpstreamError wraps a storage-network failure. The whole batch failed when
// one of these surfaces; callers report it as a gateway-class condition.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", ReasonUploadFailed, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func requestError(reason, format string, args ...interface{}) *RequestError {
	return &RequestError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
