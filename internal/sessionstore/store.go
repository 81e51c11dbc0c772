// Package sessionstore persists client session state (access token, profile, refresh cookie)
// in a SQL database through GORM.
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("sessionstore.unsupported_dialect")
	// ErrEntryNotFound indicates that no value is stored under the key.
	ErrEntryNotFound = errors.New("sessionstore.not_found")

	errEmptyStoreURL       = errors.New("sessionstore.empty_store_url")
	errEmptyKey            = errors.New("sessionstore.empty_key")
	errSQLiteEmptyPath     = errors.New("sessionstore.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("sessionstore.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("sessionstore.unsupported_no_scheme")
)

// DatabaseStore is a synchronous key/value store for session state.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
	logger      *zap.Logger
}

type entryRecord struct {
	Key           string `gorm:"column:key;primaryKey"`
	Value         string `gorm:"column:value;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (entryRecord) TableName() string {
	return "session_entries"
}

type cookieRecord struct {
	URL         string `gorm:"column:url;primaryKey"`
	Name        string `gorm:"column:name;primaryKey"`
	RawCookie   string `gorm:"column:raw_cookie;not null"`
	ExpiresUnix int64  `gorm:"column:expires_unix;not null;default:0"`
}

func (cookieRecord) TableName() string {
	return "session_cookies"
}

// Open connects to storeURL (sqlite:// or postgres://) and migrates the session tables.
func Open(ctx context.Context, storeURL string, log *zap.Logger) (*DatabaseStore, error) {
	if strings.TrimSpace(storeURL) == "" {
		return nil, fmt.Errorf("sessionstore.open: %w", errEmptyStoreURL)
	}
	if log == nil {
		log = zap.NewNop()
	}
	dialector, driverLabel, err := resolveDialector(storeURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("sessionstore.open.%s: %w", driverLabel, openErr)
	}
	if driverLabel == "sqlite" {
		// SQLite allows one writer; a single connection serializes concurrent token reads and writes.
		sqlDB, poolErr := gormDB.DB()
		if poolErr != nil {
			return nil, fmt.Errorf("sessionstore.open.%s: %w", driverLabel, poolErr)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&entryRecord{}, &cookieRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("sessionstore.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{
		db:          gormDB,
		driverLabel: driverLabel,
		logger:      log,
	}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseStore) Driver() string {
	return store.driverLabel
}

// Get returns the value stored under key.
func (store *DatabaseStore) Get(ctx context.Context, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("sessionstore.get: %w", errEmptyKey)
	}
	var record entryRecord
	err := store.db.WithContext(ctx).Where(&entryRecord{Key: key}).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("sessionstore.get.%s: %w", store.driverLabel, ErrEntryNotFound)
		}
		return "", fmt.Errorf("sessionstore.get.%s: %w", store.driverLabel, err)
	}
	return record.Value, nil
}

// Put stores value under key, replacing any previous value.
func (store *DatabaseStore) Put(ctx context.Context, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("sessionstore.put: %w", errEmptyKey)
	}
	record := entryRecord{
		Key:           key,
		Value:         value,
		UpdatedAtUnix: time.Now().UTC().Unix(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_unix"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("sessionstore.put.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (store *DatabaseStore) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("sessionstore.delete: %w", errEmptyKey)
	}
	if err := store.db.WithContext(ctx).Where(&entryRecord{Key: key}).Delete(&entryRecord{}).Error; err != nil {
		return fmt.Errorf("sessionstore.delete.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (store *DatabaseStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return fmt.Errorf("sessionstore.close.%s: %w", store.driverLabel, err)
	}
	return sqlDB.Close()
}

func resolveDialector(storeURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(storeURL)
	if err != nil {
		return nil, "", fmt.Errorf("sessionstore.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("sessionstore.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(storeURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("sessionstore.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("sessionstore.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
