package society

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tyemirov/societyclient/pkg/apiclient"
)

// LogEntry is one audit event.
type LogEntry struct {
	ID        int64     `json:"id"`
	EventTime time.Time `json:"eventTime"`
	Level     string    `json:"level"`
	Actor     string    `json:"actor,omitempty"`
	Action    string    `json:"action"`
	Metadata  string    `json:"metadata,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

// Logs reads the audit log.
type Logs struct {
	client Requester
}

// NewLogs constructs the audit log reader.
func NewLogs(client Requester) *Logs {
	return &Logs{client: client}
}

// List returns one page of entries in the order the backend delivers them (newest first).
func (logs *Logs) List(ctx context.Context, page int, size int) (Page[LogEntry], error) {
	response, err := logs.client.Do(ctx, http.MethodGet, PathLogs, apiclient.RequestOptions{Query: pageValues(page, size)})
	if err != nil {
		return Page[LogEntry]{}, err
	}
	return decodePage[LogEntry](response.Body)
}

// Account is a user account as managed by administrators.
type Account struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role"`
	Active    *bool      `json:"active,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Profile converts the account into the session profile shape.
func (account Account) Profile() Profile {
	return Profile{
		ID:       account.ID,
		Username: account.Username,
		Email:    account.Email,
		Roles:    []string{account.normalizedRole()},
	}
}

// IsActive treats a missing flag as active.
func (account Account) IsActive() bool {
	return account.Active == nil || *account.Active
}

func (account Account) normalizedRole() string {
	role := strings.ToUpper(strings.TrimSpace(account.Role))
	if role == "" {
		return RoleMember
	}
	return role
}

// Users manages accounts and roles.
type Users struct {
	client Requester
}

// NewUsers constructs the user manager.
func NewUsers(client Requester) *Users {
	return &Users{client: client}
}

// List returns one page of accounts.
func (users *Users) List(ctx context.Context, page int, size int) (Page[Account], error) {
	response, err := users.client.Do(ctx, http.MethodGet, PathUsers, apiclient.RequestOptions{Query: pageValues(page, size)})
	if err != nil {
		return Page[Account]{}, err
	}
	accounts, err := decodePage[Account](response.Body)
	if err != nil {
		return Page[Account]{}, err
	}
	for index := range accounts.Content {
		accounts.Content[index].Role = accounts.Content[index].normalizedRole()
	}
	return accounts, nil
}

// UpdateRole assigns role to the account and keeps it active.
func (users *Users) UpdateRole(ctx context.Context, userID int64, role string) (Account, error) {
	if userID <= 0 {
		return Account{}, fmt.Errorf("society.users: %w: %d", ErrInvalidIdentifier, userID)
	}
	body := struct {
		Role   string `json:"role"`
		Active bool   `json:"active"`
	}{Role: strings.ToUpper(strings.TrimSpace(role)), Active: true}
	path := PathUsers + "/" + strconv.FormatInt(userID, 10)
	response, err := users.client.Do(ctx, http.MethodPatch, path, apiclient.RequestOptions{Body: body})
	if err != nil {
		return Account{}, err
	}
	return decodeEntity[Account](response.Body)
}

// Current returns the signed-in account.
func (users *Users) Current(ctx context.Context) (Account, error) {
	response, err := users.client.Do(ctx, http.MethodGet, PathCurrentUser, apiclient.RequestOptions{})
	if err != nil {
		return Account{}, err
	}
	return decodeEntity[Account](response.Body)
}

func pageValues(page int, size int) url.Values {
	values := url.Values{}
	if page > 0 {
		values.Set("page", strconv.Itoa(page))
	}
	if size > 0 {
		values.Set("size", strconv.Itoa(size))
	}
	return values
}
