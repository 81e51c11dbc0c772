package sessionstore

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// PersistentJar is an http.CookieJar whose accepted cookies survive process restarts.
type PersistentJar struct {
	store *DatabaseStore
	inner *cookiejar.Jar
}

// CookieJar builds a jar preloaded with every unexpired persisted cookie.
func (store *DatabaseStore) CookieJar(ctx context.Context) (*PersistentJar, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("sessionstore.cookie_jar.new: %w", err)
	}
	var records []cookieRecord
	if err := store.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("sessionstore.cookie_jar.load.%s: %w", store.driverLabel, err)
	}
	now := time.Now().UTC()
	for _, record := range records {
		if record.ExpiresUnix != 0 && time.Unix(record.ExpiresUnix, 0).Before(now) {
			continue
		}
		cookieURL, parseErr := url.Parse(record.URL)
		if parseErr != nil {
			store.logger.Warn("skipping persisted cookie",
				zap.String("code", "sessionstore.cookie.invalid_url"),
				zap.String("url", record.URL),
				zap.Error(parseErr))
			continue
		}
		cookie, cookieErr := http.ParseSetCookie(record.RawCookie)
		if cookieErr != nil {
			store.logger.Warn("skipping persisted cookie",
				zap.String("code", "sessionstore.cookie.invalid_cookie"),
				zap.String("name", record.Name),
				zap.Error(cookieErr))
			continue
		}
		inner.SetCookies(cookieURL, []*http.Cookie{cookie})
	}
	return &PersistentJar{store: store, inner: inner}, nil
}

// Cookies returns the cookies to send in a request for u.
func (jar *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	return jar.inner.Cookies(u)
}

// SetCookies stores the cookies from a response for u. Persistence failures are logged.
func (jar *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	jar.inner.SetCookies(u, cookies)
	now := time.Now().UTC()
	for _, cookie := range cookies {
		if cookie == nil || cookie.Name == "" {
			continue
		}
		if err := jar.persist(u, cookie, now); err != nil {
			jar.store.logger.Warn("persisting cookie",
				zap.String("code", "sessionstore.cookie.persist_failed"),
				zap.String("name", cookie.Name),
				zap.Error(err))
		}
	}
}

func (jar *PersistentJar) persist(u *url.URL, cookie *http.Cookie, now time.Time) error {
	stored := *cookie
	if stored.Path == "" || !strings.HasPrefix(stored.Path, "/") {
		stored.Path = defaultCookiePath(u.Path)
	}
	cookieURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: stored.Path}).String()
	db := jar.store.db.WithContext(context.Background())

	if stored.MaxAge < 0 || (!stored.Expires.IsZero() && !stored.Expires.After(now)) {
		return db.Where("url = ? AND name = ?", cookieURL, stored.Name).Delete(&cookieRecord{}).Error
	}

	var expiresUnix int64
	switch {
	case stored.MaxAge > 0:
		expires := now.Add(time.Duration(stored.MaxAge) * time.Second)
		expiresUnix = expires.Unix()
		stored.MaxAge = 0
		stored.Expires = expires
	case !stored.Expires.IsZero():
		expiresUnix = stored.Expires.Unix()
	}
	record := cookieRecord{
		URL:         cookieURL,
		Name:        stored.Name,
		RawCookie:   stored.String(),
		ExpiresUnix: expiresUnix,
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"raw_cookie", "expires_unix"}),
	}).Create(&record).Error
}

// defaultCookiePath is the RFC 6265 default path for a cookie set without a Path attribute.
func defaultCookiePath(requestPath string) string {
	if requestPath == "" || requestPath[0] != '/' {
		return "/"
	}
	lastSlash := strings.LastIndex(requestPath, "/")
	if lastSlash == 0 {
		return "/"
	}
	return requestPath[:lastSlash]
}
