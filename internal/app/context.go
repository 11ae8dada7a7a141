// Package app wires a workspace into a ready-to-use engine: database open,
// schema migration and config resolution happen in one place so the CLI and
// the HTTP server bootstrap identically.
package app

import (
	"database/sql"
	"fmt"

	"assetline/internal/config"
	"assetline/internal/db"
	"assetline/internal/engine"
	"assetline/internal/migrate"
)

// Context is an opened workspace.
type Context struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open resolves the workspace config (falling back to defaults when no
// assetline.yml exists), opens the database and applies migrations.
func Open(workspace string) (*Context, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("assetline")
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Context{
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg),
	}, nil
}

// Close releases the workspace resources.
func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
