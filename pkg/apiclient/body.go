package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeOctetStream = "application/octet-stream"
)

// RequestOptions carries the optional parts of a request.
type RequestOptions struct {
	Query   url.Values
	Body    any
	Headers http.Header
}

// RawBody is sent verbatim with its own content type.
type RawBody struct {
	ContentType string
	Data        []byte
}

// FormFile is one file part of a multipart body.
type FormFile struct {
	FieldName string
	FileName  string
	Content   io.Reader
}

// NewMultipartBody encodes fields and files as multipart/form-data.
// The returned content type carries the generated boundary.
func NewMultipartBody(fields map[string]string, files ...FormFile) (*RawBody, error) {
	buffer := &bytes.Buffer{}
	writer := multipart.NewWriter(buffer)
	for _, file := range files {
		part, err := writer.CreateFormFile(file.FieldName, file.FileName)
		if err != nil {
			return nil, fmt.Errorf("apiclient.multipart.create_file: %w", err)
		}
		if file.Content != nil {
			if _, err := io.Copy(part, file.Content); err != nil {
				return nil, fmt.Errorf("apiclient.multipart.copy_file: %w", err)
			}
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("apiclient.multipart.write_field.%s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("apiclient.multipart.close: %w", err)
	}
	return &RawBody{ContentType: writer.FormDataContentType(), Data: buffer.Bytes()}, nil
}

// encodeBody buffers the body so a replay resends identical bytes.
func encodeBody(body any) ([]byte, string, error) {
	switch typed := body.(type) {
	case nil:
		return nil, "", nil
	case *RawBody:
		if typed == nil {
			return nil, "", nil
		}
		return typed.Data, typed.ContentType, nil
	case RawBody:
		return typed.Data, typed.ContentType, nil
	case []byte:
		return typed, contentTypeOctetStream, nil
	case io.Reader:
		data, err := io.ReadAll(typed)
		if err != nil {
			return nil, "", fmt.Errorf("apiclient.body.read: %w", err)
		}
		return data, contentTypeOctetStream, nil
	default:
		data, err := json.Marshal(typed)
		if err != nil {
			return nil, "", fmt.Errorf("apiclient.body.encode: %w", err)
		}
		return data, contentTypeJSON, nil
	}
}

// Response is a successful (2xx) response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Method     string
	URL        string
}

// DecodeJSON decodes the response body into T; an empty body yields the zero value.
func DecodeJSON[T any](response *Response) (T, error) {
	var out T
	if response == nil || len(bytes.TrimSpace(response.Body)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(response.Body, &out); err != nil {
		return out, fmt.Errorf("apiclient.decode: %w", err)
	}
	return out, nil
}
