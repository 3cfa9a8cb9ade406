package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"mediavault/internal/models"
	"mediavault/internal/storage"
	"mediavault/internal/storagenet"
)

// nameFieldName is the multipart field overriding a file's display name
// ("name" flat, "name_{i}" indexed).
const nameFieldName = "name"

// Command carries one validated upload request into the orchestrator. Batch
// has already passed collection; ProviderID names the storage-network
// provider the caller selected.
type Command struct {
	Batch      *Batch
	ProviderID int64
	UploaderID string
	CategoryID string
	Visible    bool
}

// Orchestrator drives a collected batch through the storage network and into
// the repository. The flow is all-or-nothing: metadata for every file is
// normalized before the first byte leaves the vault, one upload context
// covers the whole batch, and records are persisted only after every upload
// has been acknowledged.
type Orchestrator struct {
	Net    storagenet.Client
	Store  storage.Repository
	Logger *slog.Logger
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Process executes the upload pipeline for one batch. Client-input failures
// return a *RequestError before any network side effect; storage-network
// failures return an *UpstreamError and leave no repository rows behind.
func (o *Orchestrator) Process(ctx context.Context, cmd Command) ([]models.FileRecord, error) {
	batch := cmd.Batch
	if batch == nil || len(batch.Files) == 0 {
		return nil, &RequestError{Reason: ReasonFileRequired}
	}

	// Metadata for the whole batch is validated up front so a bad
	// trailing file cannot strand earlier uploads on the network.
	docs, err := normalizeBatchMetadata(batch)
	if err != nil {
		return nil, err
	}

	provider, err := o.resolveProvider(ctx, cmd.ProviderID)
	if err != nil {
		return nil, err
	}

	uploadCtx, err := o.Net.CreateUploadContext(ctx, provider.ID)
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("open upload context: %w", err)}
	}

	results := make([]storagenet.UploadResult, len(batch.Files))
	settled := make([]bool, len(batch.Files))

	// A plain group (no derived context) lets every upload settle before
	// fan-in, so partial successes are known exactly.
	var group errgroup.Group
	for i, file := range batch.Files {
		i, file := i, file
		group.Go(func() error {
			result, err := uploadCtx.Upload(ctx, file.Filename, file.ContentType, file.Payload)
			if err != nil {
				return fmt.Errorf("upload %q: %w", file.Filename, err)
			}
			results[i] = result
			settled[i] = true
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		o.logLeakedUploads(batch, settled, uploadCtx.DatasetID())
		return nil, &UpstreamError{Err: err}
	}

	datasetID := uploadCtx.DatasetID()
	params := make([]storage.CreateFileParams, 0, len(batch.Files))
	for i, file := range batch.Files {
		size := results[i].Size
		if size <= 0 {
			size = int64(len(file.Payload))
		}
		params = append(params, storage.CreateFileParams{
			DisplayName: displayName(batch, file),
			ContentType: file.ContentType,
			Metadata:    docs[i],
			UploaderID:  cmd.UploaderID,
			CategoryID:  cmd.CategoryID,
			ContentID:   results[i].ContentID,
			DatasetID:   firstNonEmpty(results[i].DatasetID, datasetID),
			ProviderID:  provider.ID,
			Provider:    snapshotProvider(provider),
			SizeBytes:   size,
			Visible:     cmd.Visible,
		})
	}

	records, err := o.Store.CreateFiles(params)
	if err != nil {
		// Content already landed on the network; surface the dataset so
		// operators can reconcile.
		o.logger().Error("persist uploaded batch",
			"error", err,
			"datasetId", datasetID,
			"files", len(params))
		return nil, fmt.Errorf("persist uploaded batch: %w", err)
	}
	return records, nil
}

// resolveProvider fetches a fresh provider directory and checks the caller's
// selection against it. The directory is never cached across requests.
func (o *Orchestrator) resolveProvider(ctx context.Context, providerID int64) (storagenet.Provider, error) {
	providers, err := o.Net.ListProviders(ctx)
	if err != nil {
		return storagenet.Provider{}, &UpstreamError{Err: fmt.Errorf("list providers: %w", err)}
	}
	for _, provider := range providers {
		if provider.ID != providerID {
			continue
		}
		if !provider.Active {
			return storagenet.Provider{}, requestError(ReasonProviderInvalid, "provider %d is not active", providerID)
		}
		return provider, nil
	}
	return storagenet.Provider{}, requestError(ReasonProviderInvalid, "provider %d not found", providerID)
}

// logLeakedUploads records the files that reached the network before the
// batch was abandoned. There is no compensating delete; the dataset ID is
// the reconciliation handle.
func (o *Orchestrator) logLeakedUploads(batch *Batch, settled []bool, datasetID string) {
	leaked := make([]string, 0, len(settled))
	for i, ok := range settled {
		if ok {
			leaked = append(leaked, batch.Files[i].Filename)
		}
	}
	if len(leaked) == 0 {
		return
	}
	o.logger().Warn("abandoned batch left content on storage network",
		"datasetId", datasetID,
		"leaked", strings.Join(leaked, ","))
}

func displayName(batch *Batch, file FilePart) string {
	if name := batch.FileField(nameFieldName, file); name != "" {
		return name
	}
	return file.Filename
}

func snapshotProvider(provider storagenet.Provider) models.ProviderSnapshot {
	return models.ProviderSnapshot{
		ID:          provider.ID,
		Name:        provider.Name,
		Description: provider.Description,
		Active:      provider.Active,
		Service:     provider.Service,
		ServiceURL:  provider.ServiceURL,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
