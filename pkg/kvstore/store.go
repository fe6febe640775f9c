// Package kvstore holds the small string key-value stores used to keep the
// active chat session id across process restarts.
package kvstore

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Store is a string key-value store. Get reports a missing key with ok=false
// rather than an error. Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Open builds a Store from a DSN:
//
//	memory://
//	file:///path/to/session.json
//	sqlite:///path/to/state.db
//	redis://host:port/prefix
//	pebble:///path/to/dir
//
// A bare path is treated as a file store.
func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == "memory://" || dsn == "memory" {
		return NewMemoryStore(), nil
	}
	if !strings.Contains(dsn, "://") {
		return NewFileStore(dsn)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "kvstore: parse dsn %q", dsn)
	}
	switch u.Scheme {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(pathFromURL(u))
	case "sqlite", "sqlite3":
		return NewSQLiteStore(pathFromURL(u))
	case "pebble":
		return NewPebbleStore(pathFromURL(u))
	case "redis":
		return NewRedisStore(RedisOptions{
			Addr:     u.Host,
			Password: redisPassword(u),
			Prefix:   strings.Trim(u.Path, "/"),
		})
	default:
		return nil, errors.Errorf("kvstore: unsupported scheme %q", u.Scheme)
	}
}

func pathFromURL(u *url.URL) string {
	p := u.Path
	if u.Host != "" {
		// file://relative/path parses "relative" as host
		p = u.Host + p
	}
	return filepath.Clean(p)
}

func redisPassword(u *url.URL) string {
	if u.User == nil {
		return ""
	}
	if p, ok := u.User.Password(); ok {
		return p
	}
	return ""
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("kvstore: empty key")
	}
	return nil
}
