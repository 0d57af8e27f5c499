package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/pkg/logger"
)

// Client is the entity archive: the durable copy of canonical entities plus
// an ingestion audit log. The vector index is rebuilt from here on restart,
// so nothing else needs stronger durability.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite archive initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		content_type TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		payload TEXT NOT NULL,
		source_id TEXT NOT NULL,
		reliability TEXT NOT NULL,
		last_updated INTEGER NOT NULL,
		completeness REAL NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (content_type, id)
	);
	CREATE INDEX IF NOT EXISTS idx_entities_source ON entities(source_id);
	CREATE INDEX IF NOT EXISTS idx_entities_updated ON entities(updated_at);

	CREATE TABLE IF NOT EXISTS ingestion_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id TEXT NOT NULL,
		content_type TEXT,
		status TEXT NOT NULL,
		detail TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_log_source ON ingestion_log(source_id);
	CREATE INDEX IF NOT EXISTS idx_log_created ON ingestion_log(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

func (c *Client) UpsertEntity(entity *models.CanonicalEntity) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	_, err = c.db.Exec(`
		INSERT INTO entities (content_type, id, name, payload, source_id, reliability, last_updated, completeness, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_type, id) DO UPDATE SET
			name = excluded.name,
			payload = excluded.payload,
			source_id = excluded.source_id,
			reliability = excluded.reliability,
			last_updated = excluded.last_updated,
			completeness = excluded.completeness,
			updated_at = excluded.updated_at`,
		string(entity.Type), entity.ID, entity.Name, string(payload),
		entity.SourceInfo.SourceID, string(entity.SourceInfo.Reliability),
		entity.SourceInfo.LastUpdated.Unix(), entity.Completeness, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}

	return nil
}

func (c *Client) DeleteEntity(contentType, id string) error {
	_, err := c.db.Exec("DELETE FROM entities WHERE content_type = ? AND id = ?", contentType, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return nil
}

// ReplaceEntities swaps the whole archive for the given set in one
// transaction. Used after a full refresh.
func (c *Client) ReplaceEntities(entities []*models.CanonicalEntity) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM entities"); err != nil {
		return fmt.Errorf("failed to clear entities: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO entities (content_type, id, name, payload, source_id, reliability, last_updated, completeness, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, entity := range entities {
		payload, err := json.Marshal(entity)
		if err != nil {
			return fmt.Errorf("failed to marshal entity %s: %w", entity.ID, err)
		}
		_, err = stmt.Exec(
			string(entity.Type), entity.ID, entity.Name, string(payload),
			entity.SourceInfo.SourceID, string(entity.SourceInfo.Reliability),
			entity.SourceInfo.LastUpdated.Unix(), entity.Completeness, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert entity %s: %w", entity.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

func (c *Client) ListEntities() ([]*models.CanonicalEntity, error) {
	rows, err := c.db.Query("SELECT payload FROM entities ORDER BY content_type, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.CanonicalEntity
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		var entity models.CanonicalEntity
		if err := json.Unmarshal([]byte(payload), &entity); err != nil {
			logger.Warn("Skipping undecodable archived entity", zap.Error(err))
			continue
		}
		entities = append(entities, &entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entities: %w", err)
	}

	return entities, nil
}

func (c *Client) LogRecord(sourceID, contentType, status, detail string) error {
	_, err := c.db.Exec(`
		INSERT INTO ingestion_log (source_id, content_type, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sourceID, contentType, status, detail, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to log record: %w", err)
	}
	return nil
}
