package stubserver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound       = errors.New("users.not_found")
	ErrUsernameTaken      = errors.New("users.username_taken")
	ErrInvalidCredentials = errors.New("users.invalid_credentials")
	ErrInvalidRole        = errors.New("users.invalid_role")
	ErrInvalidUserInput   = errors.New("users.invalid_input")
)

// User is an application account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	passwordHash []byte
}

// Profile is the user payload returned with access tokens.
type Profile struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

func (user User) profile() Profile {
	return Profile{ID: user.ID, Username: user.Username, Email: user.Email, Roles: []string{user.Role}}
}

// UserDirectory stores accounts with bcrypt password hashes.
type UserDirectory struct {
	mutex      sync.RWMutex
	clock      Clock
	cost       int
	sequenceID int64
	byID       map[int64]*User
	byName     map[string]int64
}

// NewUserDirectory constructs an empty directory hashing with cost.
func NewUserDirectory(clock Clock, cost int) *UserDirectory {
	if clock == nil {
		clock = systemClock{}
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &UserDirectory{
		clock:  clock,
		cost:   cost,
		byID:   make(map[int64]*User),
		byName: make(map[string]int64),
	}
}

// Create registers a new account.
func (directory *UserDirectory) Create(username string, password string, email string, role string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return User{}, fmt.Errorf("users.create: %w", ErrInvalidUserInput)
	}
	normalizedRole, roleErr := normalizeRole(role)
	if roleErr != nil {
		return User{}, roleErr
	}
	hash, hashErr := bcrypt.GenerateFromPassword([]byte(password), directory.cost)
	if hashErr != nil {
		return User{}, fmt.Errorf("users.create.hash: %w", hashErr)
	}

	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	key := strings.ToLower(username)
	if _, exists := directory.byName[key]; exists {
		return User{}, fmt.Errorf("users.create: %w", ErrUsernameTaken)
	}
	directory.sequenceID++
	user := &User{
		ID:           directory.sequenceID,
		Username:     username,
		Email:        strings.TrimSpace(email),
		Role:         normalizedRole,
		Active:       true,
		CreatedAt:    directory.clock.Now(),
		passwordHash: hash,
	}
	directory.byID[user.ID] = user
	directory.byName[key] = user.ID
	return *user, nil
}

// Authenticate checks a username and password pair.
func (directory *UserDirectory) Authenticate(username string, password string) (User, error) {
	directory.mutex.RLock()
	userID, ok := directory.byName[strings.ToLower(strings.TrimSpace(username))]
	var user User
	if ok {
		user = *directory.byID[userID]
	}
	directory.mutex.RUnlock()

	if !ok || !user.Active {
		return User{}, fmt.Errorf("users.authenticate: %w", ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword(user.passwordHash, []byte(password)); err != nil {
		return User{}, fmt.Errorf("users.authenticate: %w", ErrInvalidCredentials)
	}
	return user, nil
}

// Get returns the account with id.
func (directory *UserDirectory) Get(userID int64) (User, error) {
	directory.mutex.RLock()
	defer directory.mutex.RUnlock()
	user, ok := directory.byID[userID]
	if !ok {
		return User{}, fmt.Errorf("users.get: %w", ErrUserNotFound)
	}
	return *user, nil
}

// List returns every account ordered by id.
func (directory *UserDirectory) List() []User {
	directory.mutex.RLock()
	defer directory.mutex.RUnlock()
	users := make([]User, 0, len(directory.byID))
	for _, user := range directory.byID {
		users = append(users, *user)
	}
	sort.Slice(users, func(left, right int) bool {
		return users[left].ID < users[right].ID
	})
	return users
}

// UpdateRole changes the role and active flag of an account.
func (directory *UserDirectory) UpdateRole(userID int64, role string, active bool) (User, error) {
	normalizedRole, roleErr := normalizeRole(role)
	if roleErr != nil {
		return User{}, roleErr
	}
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	user, ok := directory.byID[userID]
	if !ok {
		return User{}, fmt.Errorf("users.update_role: %w", ErrUserNotFound)
	}
	user.Role = normalizedRole
	user.Active = active
	return *user, nil
}

func normalizeRole(role string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(role))
	if normalized == "" {
		return RoleMember, nil
	}
	switch normalized {
	case RoleAdmin, RolePresident, RoleSecretary, RoleEditor, RoleMember:
		return normalized, nil
	default:
		return "", fmt.Errorf("users.role.%s: %w", strings.ToLower(normalized), ErrInvalidRole)
	}
}
