package db

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// WithDBName returns dsn pointed at another database on the same server, e.g.
// an archive database holding older fix history. Only postgres:// and
// postgresql:// URLs are accepted.
func WithDBName(dsn, database string) (string, error) {
	if dsn == "" {
		return "", errors.New("empty DSN")
	}
	database = strings.TrimSpace(database)
	if strings.Trim(database, "/") == "" {
		return "", errors.New("empty database name")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse DSN: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}
