// Package society implements the society application's use of the authenticated client:
// the session owner, the members directory, audit logs and user role management.
package society

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tyemirov/societyclient/pkg/apiclient"
)

// Endpoint paths relative to the API base URL.
const (
	PathLogin        = apiclient.DefaultLoginPath
	PathRegister     = apiclient.DefaultRegisterPath
	PathMembers      = "/member"
	PathMemberExport = "/member/export"
	PathLogs         = "/logs"
	PathUsers        = "/users"
	PathCurrentUser  = "/users/me"
)

// Roles understood by the backend.
const (
	RoleAdmin     = "ADMIN"
	RolePresident = "PRESIDENT"
	RoleSecretary = "SECRETARY"
	RoleEditor    = "EDITOR"
	RoleMember    = "MEMBER"
)

var (
	// MemberManagerRoles may read and edit the members directory.
	MemberManagerRoles = []string{RoleAdmin, RolePresident, RoleEditor}
	// AdministratorRoles may read audit logs and manage users.
	AdministratorRoles = []string{RoleAdmin, RolePresident}
)

var (
	ErrUnexpectedPayload  = errors.New("society.unexpected_payload")
	ErrMissingAccessToken = errors.New("society.missing_access_token")
	ErrNotAuthenticated   = errors.New("society.not_authenticated")
	ErrInvalidMember      = errors.New("society.invalid_member")
	ErrInvalidIdentifier  = errors.New("society.invalid_identifier")
)

// Requester issues API requests. *apiclient.Client satisfies it.
type Requester interface {
	Do(ctx context.Context, method string, path string, options apiclient.RequestOptions) (*apiclient.Response, error)
}

// Page is one page of a listing; Page is zero-based.
type Page[T any] struct {
	Content       []T   `json:"content"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
}

type pagePayload[T any] struct {
	Content       *[]T            `json:"content"`
	Data          json.RawMessage `json:"data"`
	Page          int             `json:"page"`
	Size          int             `json:"size"`
	TotalElements int64           `json:"totalElements"`
	TotalPages    int             `json:"totalPages"`
}

// decodePage accepts a bare array, a {"data": ...} envelope or a paginated {"content": [...]} body.
func decodePage[T any](body []byte) (Page[T], error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Page[T]{Content: []T{}}, nil
	}
	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Page[T]{}, fmt.Errorf("society.decode_page: %w", err)
		}
		if items == nil {
			items = []T{}
		}
		totalPages := 0
		if len(items) > 0 {
			totalPages = 1
		}
		return Page[T]{Content: items, Size: len(items), TotalElements: int64(len(items)), TotalPages: totalPages}, nil
	}

	var payload pagePayload[T]
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return Page[T]{}, fmt.Errorf("society.decode_page: %w", err)
	}
	if payload.Content != nil {
		return Page[T]{
			Content:       *payload.Content,
			Page:          payload.Page,
			Size:          payload.Size,
			TotalElements: payload.TotalElements,
			TotalPages:    payload.TotalPages,
		}, nil
	}
	if len(payload.Data) > 0 && !bytes.Equal(bytes.TrimSpace(payload.Data), []byte("null")) {
		return decodePage[T](payload.Data)
	}
	return Page[T]{}, fmt.Errorf("society.decode_page: %w", ErrUnexpectedPayload)
}

// decodeEntity accepts either the entity itself or a {"data": entity} envelope.
func decodeEntity[T any](body []byte) (T, error) {
	var out T
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return out, fmt.Errorf("society.decode_entity: %w", ErrUnexpectedPayload)
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if trimmed[0] == '{' && json.Unmarshal(trimmed, &envelope) == nil && len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		trimmed = envelope.Data
	}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return out, fmt.Errorf("society.decode_entity: %w", err)
	}
	return out, nil
}
