// Package api implements the HTTP handlers for the media vault: login and
// identity, user and category administration, and the multipart upload
// pipeline backed by the storage network. Handlers deal in stable reason
// keys; the error writer localizes them per request.
package api
