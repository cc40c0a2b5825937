package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/lib/pq"
)

// Init opens the postgres database and the whatsmeow device store on it.
// sqlstore.New runs its own schema upgrade.
func Init(ctx context.Context, dbURL string, log zerolog.Logger) (*sql.DB, *sqlstore.Container, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, nil, fmt.Errorf("ping db: %w", err)
	}

	container, err := sqlstore.New(ctx, "postgres", dbURL,
		waLog.Zerolog(log.With().Str("component", "sqlstore").Logger()))
	if err != nil {
		return nil, nil, fmt.Errorf("whatsmeow store: %w", err)
	}

	log.Info().Msg("database connected")
	return db, container, nil
}
