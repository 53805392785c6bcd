package migrator

import (
	"fmt"
	"net/url"

	_ "github.com/amacneil/dbmate/v2/pkg/driver/postgres"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// postgresURL validates a postgresql:// connection URL.
func postgresURL(connString string) (*url.URL, error) {
	u, err := url.Parse(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("unexpected connection string scheme %q", u.Scheme)
	}

	return u, nil
}
