package media

import (
	"encoding/json"
	"strings"

	"mediavault/internal/models"
)

// metadataFieldName is the top-level multipart field carrying metadata JSON
// ("metadata" flat, "metadata_{i}" indexed).
const metadataFieldName = "metadata"

// defaultGroupType tags group entries whose caller omitted an explicit type.
const defaultGroupType = "input"

type rawMetadataGroup struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// NormalizeMetadata validates and reshapes a caller-supplied metadata field
// into its canonical persisted form. Metadata is optional: an empty value,
// unparseable JSON, or a non-object shape all degrade to an empty document.
// A present `groups` array, however, is all-or-nothing: every entry needs a
// non-empty trimmed name and value or the whole payload is rejected.
func NormalizeMetadata(raw string) (models.MetadataDocument, error) {
	doc := models.MetadataDocument{Groups: []models.MetadataGroup{}}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return doc, nil
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return doc, nil
	}

	groupsRaw, ok := payload["groups"]
	if !ok {
		return doc, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(groupsRaw, &entries); err != nil {
		// `groups` present but not an array: treated as absent.
		return doc, nil
	}

	for i, entry := range entries {
		var group rawMetadataGroup
		if err := json.Unmarshal(entry, &group); err != nil {
			return models.MetadataDocument{}, requestError(ReasonMetadataInvalid, "groups[%d] is not an object", i)
		}
		name := strings.TrimSpace(group.Name)
		value := strings.TrimSpace(group.Value)
		if name == "" || value == "" {
			return models.MetadataDocument{}, requestError(ReasonMetadataInvalid, "groups[%d] requires a non-empty name and value", i)
		}
		groupType := strings.TrimSpace(group.Type)
		if groupType == "" {
			groupType = defaultGroupType
		}
		doc.Groups = append(doc.Groups, models.MetadataGroup{
			Name:  name,
			Type:  groupType,
			Value: value,
		})
	}
	return doc, nil
}

// normalizeBatchMetadata resolves one metadata document per file, honoring
// the batch's addressing convention: indexed batches normalize each file's
// own metadata field independently, flat batches share the single top-level
// field. Validation runs for every file before any network side effect.
func normalizeBatchMetadata(batch *Batch) ([]models.MetadataDocument, error) {
	docs := make([]models.MetadataDocument, len(batch.Files))
	if !batch.Indexed {
		shared, err := NormalizeMetadata(batch.Field(metadataFieldName))
		if err != nil {
			return nil, err
		}
		for i := range docs {
			docs[i] = shared
		}
		return docs, nil
	}
	for i, file := range batch.Files {
		doc, err := NormalizeMetadata(batch.FileField(metadataFieldName, file))
		if err != nil {
			return nil, err
		}
		docs[i] = doc
	}
	return docs, nil
}
