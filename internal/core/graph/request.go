package graph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
)

type requestClass string

const (
	classGet       requestClass = "get"
	classPost      requestClass = "post"
	classMultipart requestClass = "multipart"
	classTransfer  requestClass = "transfer"
)

// File is one multipart file part. Data is held in memory so the request can be
// replayed on the short 429 retry.
type File struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// NewBufferedFile reads r fully into a multipart file part.
func NewBufferedFile(field, filename, contentType string, r io.Reader) (File, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return File{}, fmt.Errorf("read %s: %w", field, err)
	}
	return File{Field: field, Filename: filename, ContentType: contentType, Data: buf.Bytes()}, nil
}

// Fingerprint asks the executor to run the duplicate guard before any network work.
type Fingerprint struct {
	Kind        string
	ResourceKey string
	Content     string
}

// Request describes one upstream call. Params are the query string for GET and the
// form fields for POST.
type Request struct {
	Method      string
	Path        string
	Params      url.Values
	Files       []File
	Credential  string
	ContextKey  string
	Fingerprint *Fingerprint
}

func (r *Request) class() requestClass {
	switch {
	case len(r.Files) > 0:
		return classMultipart
	case strings.EqualFold(r.Method, http.MethodGet) || r.Method == "":
		return classGet
	default:
		return classPost
	}
}

func (r *Request) build(ctx context.Context, baseURL string) (*http.Request, error) {
	endpoint := baseURL + "/" + strings.TrimLeft(r.Path, "/")
	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		method = http.MethodGet
	}

	var (
		body        io.Reader
		contentType string
	)

	switch r.class() {
	case classGet:
		if len(r.Params) > 0 {
			endpoint += "?" + r.Params.Encode()
		}
	case classPost:
		body = strings.NewReader(r.Params.Encode())
		contentType = "application/x-www-form-urlencoded"
	case classMultipart:
		payload, ct, err := encodeMultipart(r.Files, r.Params)
		if err != nil {
			return nil, err
		}
		body = payload
		contentType = ct
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token := strings.TrimSpace(r.Credential); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func encodeMultipart(files []File, form url.Values) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	keys := make([]string, 0, len(form))
	for key := range form {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, value := range form[key] {
			if err := writer.WriteField(key, value); err != nil {
				return nil, "", fmt.Errorf("write form field %s: %w", key, err)
			}
		}
	}

	for _, file := range files {
		field := file.Field
		if field == "" {
			field = "source"
		}
		filename := file.Filename
		if filename == "" {
			filename = field
		}
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(field), escapeQuotes(filename)))
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("create file part %s: %w", field, err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", fmt.Errorf("write file part %s: %w", field, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
