package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// ErrorType classifies every failed request/response cycle.
type ErrorType string

const (
	ErrorTypeNetwork      ErrorType = "NETWORK_ERROR"
	ErrorTypeTimeout      ErrorType = "TIMEOUT"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeClient       ErrorType = "CLIENT_ERROR"
	ErrorTypeServer       ErrorType = "SERVER_ERROR"
	ErrorTypeUnknown      ErrorType = "UNKNOWN"
)

var defaultErrorMessages = map[ErrorType]string{
	ErrorTypeNetwork:      "Network error, unable to reach the server.",
	ErrorTypeTimeout:      "Request timed out. Please try again.",
	ErrorTypeServer:       "Server error, please try again later.",
	ErrorTypeClient:       "Request could not be completed. Please check your input.",
	ErrorTypeUnauthorized: "Unauthorized access. Please sign in again.",
	ErrorTypeUnknown:      "An unexpected error occurred. Please try again.",
}

// DefaultMessage returns the fallback message used when a response carries none.
func DefaultMessage(errorType ErrorType) string {
	if message, ok := defaultErrorMessages[errorType]; ok {
		return message
	}
	return defaultErrorMessages[ErrorTypeUnknown]
}

// Sentinel errors exposed by the client.
var (
	ErrMissingBaseURL = errors.New("apiclient.missing_base_url")
	ErrInvalidBaseURL = errors.New("apiclient.invalid_base_url")
	ErrCancelled      = errors.New("apiclient.cancelled")
)

// APIError is the only failure shape returned for a request that did not get a 2xx response.
type APIError struct {
	HTTPStatus int
	Type       ErrorType
	Code       string
	Message    string
	Details    json.RawMessage
	URL        string
	Method     string
	RequestID  string
}

func (apiError *APIError) Error() string {
	if apiError.HTTPStatus == 0 {
		return fmt.Sprintf("%s %s: %s: %s", apiError.Method, apiError.URL, apiError.Type, apiError.Message)
	}
	return fmt.Sprintf("%s %s: %s (%d): %s", apiError.Method, apiError.URL, apiError.Type, apiError.HTTPStatus, apiError.Message)
}

// CancelledError reports that the caller abandoned the request through its context.
type CancelledError struct {
	Method string
	URL    string
	Cause  error
}

func (cancelled *CancelledError) Error() string {
	return fmt.Sprintf("%s %s: request cancelled", cancelled.Method, cancelled.URL)
}

// Is matches ErrCancelled.
func (cancelled *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

func (cancelled *CancelledError) Unwrap() error {
	return cancelled.Cause
}

// Classify maps the presence of a response and its status to an ErrorType.
// It never returns TIMEOUT; deadlines are detected from the transport error.
func Classify(hasResponse bool, status int) ErrorType {
	if !hasResponse {
		return ErrorTypeNetwork
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorTypeUnauthorized
	case status >= 500:
		return ErrorTypeServer
	case status >= 400:
		return ErrorTypeClient
	default:
		return ErrorTypeUnknown
	}
}

// errorBody is the backend error payload; every field is optional.
//
//	{"timestamp":"...","status":"401 UNAUTHORIZED","message":"Unauthorized access","details":"uri=/api/v1/member/10088"}
type errorBody struct {
	Status  string
	Message string
	Error   string
	Title   string
}

func decodeErrorBody(body []byte) errorBody {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return errorBody{}
	}
	return errorBody{
		Status:  stringField(fields, "status"),
		Message: stringField(fields, "message"),
		Error:   stringField(fields, "error"),
		Title:   stringField(fields, "title"),
	}
}

func stringField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func (body errorBody) message() string {
	for _, candidate := range []string{body.Message, body.Error, body.Title} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// symbolicCode extracts "UNAUTHORIZED" from "401 UNAUTHORIZED".
func (body errorBody) symbolicCode() string {
	parts := strings.Fields(body.Status)
	if len(parts) > 1 {
		return parts[1]
	}
	return ""
}

func newResponseError(call *preparedRequest, status int, body []byte) *APIError {
	errorType := Classify(true, status)
	decoded := decodeErrorBody(body)
	message := decoded.message()
	if message == "" {
		message = DefaultMessage(errorType)
	}
	code := decoded.symbolicCode()
	if code == "" {
		code = strconv.Itoa(status)
	}
	return &APIError{
		HTTPStatus: status,
		Type:       errorType,
		Code:       code,
		Message:    message,
		Details:    rawDetails(body),
		URL:        call.path,
		Method:     call.method,
		RequestID:  call.requestID(),
	}
}

func newTransportError(call *preparedRequest, cause error) *APIError {
	errorType := ErrorTypeNetwork
	if isTimeout(cause) {
		errorType = ErrorTypeTimeout
	}
	return &APIError{
		Type:      errorType,
		Code:      "0",
		Message:   DefaultMessage(errorType),
		URL:       call.path,
		Method:    call.method,
		RequestID: call.requestID(),
	}
}

func isTimeout(cause error) bool {
	if errors.Is(cause, context.DeadlineExceeded) {
		return true
	}
	var netError net.Error
	return errors.As(cause, &netError) && netError.Timeout()
}

func rawDetails(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	encoded, err := json.Marshal(string(trimmed))
	if err != nil {
		return nil
	}
	return encoded
}
