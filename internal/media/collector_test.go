package media

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/textproto"
	"strings"
	"testing"
)

type formFile struct {
	field       string
	filename    string
	contentType string
	payload     string
}

func buildForm(t *testing.T, fields map[string]string, files []formFile) *multipart.Reader {
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
	return multipart.NewReader(&body, writer.Boundary())
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %v, want *RequestError", err)
	}
	return reqErr.Reason
}

func TestCollectFlatConvention(t *testing.T) {
	reader := buildForm(t,
		map[string]string{"name": "holiday"},
		[]formFile{
			{field: "file", filename: "a.mp4", contentType: "video/mp4", payload: "aaaa"},
			{field: "file", filename: "b.mp4", contentType: "video/mp4", payload: "bb"},
		})

	batch, err := NewCollector(Limits{}).Collect(reader)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if batch.Indexed {
		t.Fatal("flat batch reported as indexed")
	}
	if len(batch.Files) != 2 {
		t.Fatalf("files = %d, want 2", len(batch.Files))
	}
	if batch.Files[0].Filename != "a.mp4" || batch.Files[1].Filename != "b.mp4" {
		t.Fatalf("file order = %q, %q", batch.Files[0].Filename, batch.Files[1].Filename)
	}
	if got := batch.Field("name"); got != "holiday" {
		t.Fatalf("Field(name) = %q, want %q", got, "holiday")
	}
	for _, file := range batch.Files {
		if file.Index != -1 {
			t.Fatalf("flat file Index = %d, want -1", file.Index)
		}
	}
}

func TestCollectIndexedConventionOrdersByIndex(t *testing.T) {
	reader := buildForm(t,
		map[string]string{"name_0": "first", "name_1": "second"},
		[]formFile{
			{field: "file_1", filename: "second.mp4", contentType: "video/mp4", payload: "22"},
			{field: "file_0", filename: "first.mp4", contentType: "video/mp4", payload: "11"},
		})

	batch, err := NewCollector(Limits{}).Collect(reader)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if !batch.Indexed {
		t.Fatal("indexed batch not reported as indexed")
	}
	if batch.Files[0].Filename != "first.mp4" || batch.Files[1].Filename != "second.mp4" {
		t.Fatalf("file order = %q, %q, want index order", batch.Files[0].Filename, batch.Files[1].Filename)
	}
	if got := batch.FileField("name", batch.Files[1]); got != "second" {
		t.Fatalf("FileField(name, file_1) = %q, want %q", got, "second")
	}
}

func TestCollectIndexedWinsOverFlat(t *testing.T) {
	reader := buildForm(t, nil, []formFile{
		{field: "file", filename: "flat.mp4", contentType: "video/mp4", payload: "ff"},
		{field: "file_0", filename: "indexed.mp4", contentType: "video/mp4", payload: "ii"},
	})

	batch, err := NewCollector(Limits{}).Collect(reader)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if !batch.Indexed {
		t.Fatal("mixed batch should resolve to indexed")
	}
	if len(batch.Files) != 1 || batch.Files[0].Filename != "indexed.mp4" {
		t.Fatalf("files = %+v, want just indexed.mp4", batch.Files)
	}
}

func TestCollectNoFiles(t *testing.T) {
	reader := buildForm(t, map[string]string{"name": "empty"}, nil)
	_, err := NewCollector(Limits{}).Collect(reader)
	if got := reasonOf(t, err); got != ReasonFileRequired {
		t.Fatalf("reason = %q, want %q", got, ReasonFileRequired)
	}
}

func TestCollectTooManyFiles(t *testing.T) {
	files := []formFile{
		{field: "file", filename: "a.mp4", contentType: "video/mp4", payload: "a"},
		{field: "file", filename: "b.mp4", contentType: "video/mp4", payload: "b"},
		{field: "file", filename: "c.mp4", contentType: "video/mp4", payload: "c"},
	}
	reader := buildForm(t, nil, files)
	_, err := NewCollector(Limits{MaxFileCount: 2}).Collect(reader)
	if got := reasonOf(t, err); got != ReasonTooManyFiles {
		t.Fatalf("reason = %q, want %q", got, ReasonTooManyFiles)
	}
}

func TestCollectFileTooLarge(t *testing.T) {
	reader := buildForm(t, nil, []formFile{
		{field: "file", filename: "big.bin", payload: strings.Repeat("x", 64)},
	})
	_, err := NewCollector(Limits{MaxFileSize: 16}).Collect(reader)
	if got := reasonOf(t, err); got != ReasonFileTooLarge {
		t.Fatalf("reason = %q, want %q", got, ReasonFileTooLarge)
	}
}

func TestCollectTypeNotAllowed(t *testing.T) {
	reader := buildForm(t, nil, []formFile{
		{field: "file", filename: "page.html", contentType: "text/html; charset=utf-8", payload: "<html>"},
	})
	_, err := NewCollector(Limits{AllowedTypes: []string{"video/mp4", "image/png"}}).Collect(reader)
	if got := reasonOf(t, err); got != ReasonTypeNotAllowed {
		t.Fatalf("reason = %q, want %q", got, ReasonTypeNotAllowed)
	}
}

func TestCollectAllowsTypeParameters(t *testing.T) {
	reader := buildForm(t, nil, []formFile{
		{field: "file", filename: "clip.mp4", contentType: "video/mp4; codecs=avc1", payload: "x"},
	})
	batch, err := NewCollector(Limits{AllowedTypes: []string{"video/mp4"}}).Collect(reader)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(batch.Files) != 1 {
		t.Fatalf("files = %d, want 1", len(batch.Files))
	}
}

func TestCollectIgnoresUnknownFileFields(t *testing.T) {
	reader := buildForm(t, nil, []formFile{
		{field: "attachment", filename: "stray.bin", payload: "stray"},
		{field: "file", filename: "real.mp4", contentType: "video/mp4", payload: "real"},
	})
	batch, err := NewCollector(Limits{}).Collect(reader)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(batch.Files) != 1 || batch.Files[0].Filename != "real.mp4" {
		t.Fatalf("files = %+v, want just real.mp4", batch.Files)
	}
}

func TestClassifyFileField(t *testing.T) {
	cases := []struct {
		name      string
		wantIndex int
		wantFile  bool
	}{
		{"file", -1, true},
		{"file_0", 0, true},
		{"file_12", 12, true},
		{"file_-1", 0, false},
		{"file_abc", 0, false},
		{"files", 0, false},
		{"file_", 0, false},
	}
	for _, tc := range cases {
		index, isFile := classifyFileField(tc.name)
		if index != tc.wantIndex || isFile != tc.wantFile {
			t.Fatalf("classifyFileField(%q) = (%d, %v), want (%d, %v)",
				tc.name, index, isFile, tc.wantIndex, tc.wantFile)
		}
	}
}
