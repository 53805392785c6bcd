package migrator

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/amacneil/dbmate/v2/pkg/driver/sqlite"
	_ "github.com/mattn/go-sqlite3"
)

// sqliteURL turns a database file path into a dbmate URL.
func sqliteURL(path string) (*url.URL, error) {
	if strings.Contains(path, "memory") {
		return nil, errors.New("in-memory databases are not supported")
	}

	u, err := url.Parse("sqlite:" + path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	return u, nil
}
