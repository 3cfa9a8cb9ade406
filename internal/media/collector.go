package media

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"sort"
	"strconv"
	"strings"
)

// Multipart addressing conventions. Flat requests send one or more parts
// named "file" sharing the top-level fields; indexed requests send
// "file_0".."file_N" with per-file companion fields ("name_0",
// "metadata_0", ...). The conventions are mutually exclusive per request:
// once any indexed file arrives, indexed assignment wins.
const (
	flatFileField     = "file"
	indexedFilePrefix = "file_"
)

// fieldValueCeiling bounds how much of a non-file part is buffered. Field
// values are short JSON strings and names; anything larger is abuse.
const fieldValueCeiling = 1 << 20

// Limits configures the collector's fail-fast validation. AllowedTypes
// containing "*" (or left empty) accepts every MIME type.
type Limits struct {
	MaxFileSize  int64
	MaxFileCount int
	AllowedTypes []string
}

// DefaultLimits mirror the service defaults when no flags override them.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:  100 << 20,
		MaxFileCount: 10,
		AllowedTypes: []string{"*"},
	}
}

func (l Limits) allowsType(contentType string) bool {
	if len(l.AllowedTypes) == 0 {
		return true
	}
	base := contentType
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = base[:idx]
	}
	base = strings.TrimSpace(base)
	for _, allowed := range l.AllowedTypes {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(allowed, base) {
			return true
		}
	}
	return false
}

// FilePart is one collected file. Payload is fully buffered (bounded by
// Limits.MaxFileSize) and immutable once collected. Index is -1 for
// flat-convention files.
type FilePart struct {
	Payload     []byte
	Filename    string
	ContentType string
	Index       int
}

// Batch is the normalized output of one multipart request: the ordered file
// list plus the consolidated field map. Indexed records which addressing
// convention won.
type Batch struct {
	Files   []FilePart
	Fields  map[string]string
	Indexed bool
}

// Field returns a trimmed top-level field value.
func (b *Batch) Field(name string) string {
	return strings.TrimSpace(b.Fields[name])
}

// FileField resolves the per-file variant of a field: "name_3" for indexed
// file 3, plain "name" for flat batches.
func (b *Batch) FileField(name string, file FilePart) string {
	if b.Indexed && file.Index >= 0 {
		return strings.TrimSpace(b.Fields[fmt.Sprintf("%s_%d", name, file.Index)])
	}
	return b.Field(name)
}

// Collector drains a multipart stream into a Batch, validating sizes, file
// counts, and MIME types as parts arrive so a doomed request never reaches
// the storage network.
type Collector struct {
	limits Limits
}

// NewCollector builds a collector with the provided limits; zero-value
// fields fall back to DefaultLimits.
func NewCollector(limits Limits) *Collector {
	defaults := DefaultLimits()
	if limits.MaxFileSize <= 0 {
		limits.MaxFileSize = defaults.MaxFileSize
	}
	if limits.MaxFileCount <= 0 {
		limits.MaxFileCount = defaults.MaxFileCount
	}
	if len(limits.AllowedTypes) == 0 {
		limits.AllowedTypes = defaults.AllowedTypes
	}
	return &Collector{limits: limits}
}

// Collect consumes the multipart stream in a single pass. Every part is
// classified as a field or a file; the stream is drained exactly once. The
// returned batch owns all collected payloads.
func (c *Collector) Collect(reader *multipart.Reader) (*Batch, error) {
	fields := make(map[string]string)
	var flat []FilePart
	indexed := make(map[int]FilePart)
	filesSeen := 0

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, requestError(ReasonMalformedForm, "read multipart stream: %v", err)
		}

		name := part.FormName()
		if name == "" {
			_ = drainPart(part)
			continue
		}

		if part.FileName() == "" {
			value, err := readFieldValue(part)
			if err != nil {
				return nil, err
			}
			fields[name] = value
			continue
		}

		index, isFile := classifyFileField(name)
		if !isFile {
			// Unknown file-bearing field; drain it so the stream
			// stays consistent, but do not collect it.
			_ = drainPart(part)
			continue
		}

		filesSeen++
		if filesSeen > c.limits.MaxFileCount {
			_ = part.Close()
			return nil, requestError(ReasonTooManyFiles, "more than %d files in one request", c.limits.MaxFileCount)
		}

		filePart, err := c.readFilePart(part, index)
		if err != nil {
			return nil, err
		}
		if index >= 0 {
			indexed[index] = filePart
		} else {
			flat = append(flat, filePart)
		}
	}

	batch := &Batch{Fields: fields}
	if len(indexed) > 0 {
		batch.Indexed = true
		keys := make([]int, 0, len(indexed))
		for key := range indexed {
			keys = append(keys, key)
		}
		sort.Ints(keys)
		batch.Files = make([]FilePart, 0, len(keys))
		for _, key := range keys {
			batch.Files = append(batch.Files, indexed[key])
		}
	} else {
		batch.Files = flat
	}

	if len(batch.Files) == 0 {
		return nil, &RequestError{Reason: ReasonFileRequired}
	}
	return batch, nil
}

// classifyFileField maps a file part's field name to its convention:
// (-1, true) for the flat "file" field, (i, true) for "file_i", and
// (0, false) for anything else.
func classifyFileField(name string) (int, bool) {
	if name == flatFileField {
		return -1, true
	}
	if suffix, ok := strings.CutPrefix(name, indexedFilePrefix); ok {
		index, err := strconv.Atoi(suffix)
		if err == nil && index >= 0 {
			return index, true
		}
	}
	return 0, false
}

func (c *Collector) readFilePart(part *multipart.Part, index int) (FilePart, error) {
	defer part.Close()

	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if !c.limits.allowsType(contentType) {
		return FilePart{}, requestError(ReasonTypeNotAllowed, "type %q is not allowed", contentType)
	}

	payload, err := io.ReadAll(io.LimitReader(part, c.limits.MaxFileSize+1))
	if err != nil {
		return FilePart{}, requestError(ReasonMalformedForm, "read file %q: %v", part.FileName(), err)
	}
	if int64(len(payload)) > c.limits.MaxFileSize {
		return FilePart{}, requestError(ReasonFileTooLarge, "file %q exceeds %d bytes", part.FileName(), c.limits.MaxFileSize)
	}

	return FilePart{
		Payload:     payload,
		Filename:    part.FileName(),
		ContentType: contentType,
		Index:       index,
	}, nil
}

func readFieldValue(part *multipart.Part) (string, error) {
	defer part.Close()
	payload, err := io.ReadAll(io.LimitReader(part, fieldValueCeiling+1))
	if err != nil {
		return "", requestError(ReasonMalformedForm, "read field %q: %v", part.FormName(), err)
	}
	if len(payload) > fieldValueCeiling {
		return "", requestError(ReasonMalformedForm, "field %q exceeds %d bytes", part.FormName(), fieldValueCeiling)
	}
	return string(payload), nil
}

func drainPart(part *multipart.Part) error {
	defer part.Close()
	_, err := io.Copy(io.Discard, part)
	return err
}
