package database

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

var PostgresDB *sql.DB

// ConnectPostgres connects to PostgreSQL database
func ConnectPostgres(postgresURI string) error {
	var err error

	PostgresDB, err = sql.Open("postgres", postgresURI)
	if err != nil {
		return err
	}

	// Set connection pool settings
	PostgresDB.SetMaxOpenConns(25)
	PostgresDB.SetMaxIdleConns(5)
	PostgresDB.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err = PostgresDB.Ping(); err != nil {
		return err
	}

	log.Info().Msg("connected_postgres")

	// Initialize tables
	if err = InitPostgresTables(PostgresDB); err != nil {
		return err
	}

	return nil
}

// InitPostgresTables creates the document, attachment and interest tables if
// they don't exist
func InitPostgresTables(db *sql.DB) error {
	queries := []string{
		// One row per document; doc holds relaxed extended JSON
		`CREATE TABLE IF NOT EXISTS documents (
			collection VARCHAR(255) NOT NULL,
			id VARCHAR(255) NOT NULL,
			doc JSONB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		)`,

		// Attachment blobs when no external blob store is configured
		`CREATE TABLE IF NOT EXISTS attachments (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			data BYTEA NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb
		)`,

		// Durable sync interest registered by subscriptions
		`CREATE TABLE IF NOT EXISTS sync_interest (
			collection VARCHAR(255) NOT NULL,
			filter TEXT NOT NULL,
			refs INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, filter)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_room ON documents(collection, (doc->>'roomId'))`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	log.Info().Msg("postgres_tables_initialized")
	return nil
}

// DisconnectPostgres closes the PostgreSQL connection
func DisconnectPostgres() error {
	if PostgresDB != nil {
		return PostgresDB.Close()
	}
	return nil
}
