package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"blockforge/internal/models"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound means the requested block or workflow does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the write lost a version race or would break a
	// reference (deleting a block a workflow still uses).
	ErrConflict = errors.New("conflict")
)

// DB wraps the SQL database connection.
type DB struct {
	*sql.DB
}

// Open opens the SQLite database at path and configures it for concurrent
// use.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; keep the pool small.
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(1 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ SQLite database connected")
	return &DB{db}, nil
}

// Initialize creates all required tables.
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blocks (
		id          TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		definition  TEXT NOT NULL,
		status      TEXT NOT NULL,
		version     INTEGER NOT NULL DEFAULT 1,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workflows (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		definition TEXT NOT NULL,
		version    INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workflow_refs (
		workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		block_id    TEXT NOT NULL,
		PRIMARY KEY (workflow_id, block_id)
	);

	CREATE INDEX IF NOT EXISTS idx_workflow_refs_block ON workflow_refs(block_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Println("✅ Database initialized successfully")
	return nil
}

// Registry persists blocks and workflows. Block reads go through a short
// TTL cache since the HTTP surface fetches the same blocks repeatedly.
// The cache holds serialized definitions, never *models.Block pointers:
// every GetBlock decodes a fresh copy, so callers can mutate their block
// without racing other readers.
type Registry struct {
	db         *DB
	blockCache *cache.Cache
}

// New creates a registry on top of an initialized DB.
func New(db *DB) *Registry {
	return &Registry{
		db:         db,
		blockCache: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// SaveBlock stores a block. Blocks are content-addressed, so saving an ID
// that already exists with the same content is a no-op; the same ID with
// different content is a conflict.
func (r *Registry) SaveBlock(ctx context.Context, block *models.Block) error {
	existing, err := r.GetBlock(ctx, block.ID)
	if err == nil {
		if existing.ContentEquals(block) {
			return nil
		}
		return fmt.Errorf("%w: block %s exists with different content", ErrConflict, block.ID)
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	definition, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO blocks (id, description, definition, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		block.ID, block.Description, string(definition), string(block.Status),
		block.Version, block.CreatedAt, block.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert block: %w", err)
	}

	r.blockCache.Set(block.ID, string(definition), cache.DefaultExpiration)
	return nil
}

// GetBlock fetches a block by ID, serving from cache when possible. The
// returned block is always a private copy.
func (r *Registry) GetBlock(ctx context.Context, id string) (*models.Block, error) {
	if cached, found := r.blockCache.Get(id); found {
		var block models.Block
		if err := json.Unmarshal([]byte(cached.(string)), &block); err == nil {
			return &block, nil
		}
		r.blockCache.Delete(id)
	}

	var definition string
	err := r.db.QueryRowContext(ctx, `SELECT definition FROM blocks WHERE id = ?`, id).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: block %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query block: %w", err)
	}

	var block models.Block
	if err := json.Unmarshal([]byte(definition), &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block %s: %w", id, err)
	}

	r.blockCache.Set(id, definition, cache.DefaultExpiration)
	return &block, nil
}

// ListBlocks returns all stored blocks, newest first.
func (r *Registry) ListBlocks(ctx context.Context) ([]*models.Block, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT definition FROM blocks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*models.Block
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, err
		}
		var block models.Block
		if err := json.Unmarshal([]byte(definition), &block); err != nil {
			return nil, fmt.Errorf("failed to unmarshal block: %w", err)
		}
		blocks = append(blocks, &block)
	}
	return blocks, rows.Err()
}

// UpdateBlockStatus transitions a block's status with a compare-and-swap
// on the version column. A concurrent writer wins the race; the loser gets
// ErrConflict and should re-read. The mutation happens on a private copy
// and reaches the cache only after the CAS succeeds.
func (r *Registry) UpdateBlockStatus(ctx context.Context, id string, status models.BlockStatus, expectedVersion int) error {
	block, err := r.GetBlock(ctx, id)
	if err != nil {
		return err
	}

	block.Status = status
	block.Version = expectedVersion + 1
	block.UpdatedAt = time.Now().UTC()

	definition, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE blocks SET definition = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(definition), string(status), block.UpdatedAt, id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update block: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		r.blockCache.Delete(id)
		return fmt.Errorf("%w: block %s version %d is stale", ErrConflict, id, expectedVersion)
	}

	r.blockCache.Set(id, string(definition), cache.DefaultExpiration)
	return nil
}

// DeleteBlock removes a block. A block still referenced by a workflow is
// a conflict unless force is set, in which case the references to it are
// dropped too.
func (r *Registry) DeleteBlock(ctx context.Context, id string, force bool) error {
	var refs int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_refs WHERE block_id = ?`, id).Scan(&refs)
	if err != nil {
		return fmt.Errorf("failed to check references: %w", err)
	}
	if refs > 0 {
		if !force {
			return fmt.Errorf("%w: block %s is referenced by %d workflow(s)", ErrConflict, id, refs)
		}
		if _, err := r.db.ExecContext(ctx, `DELETE FROM workflow_refs WHERE block_id = ?`, id); err != nil {
			return fmt.Errorf("failed to drop references: %w", err)
		}
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM blocks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete block: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: block %s", ErrNotFound, id)
	}

	r.blockCache.Delete(id)
	return nil
}

// SaveWorkflow stores a workflow and its block references atomically.
// Every referenced block must exist. A missing workflow ID gets a fresh
// UUID.
func (r *Registry) SaveWorkflow(ctx context.Context, wf *models.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now().UTC()
	}
	if wf.Version == 0 {
		wf.Version = 1
	}

	for _, node := range wf.Nodes {
		if _, err := r.GetBlock(ctx, node.BlockID); err != nil {
			return fmt.Errorf("workflow references unknown block %s: %w", node.BlockID, err)
		}
	}

	definition, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, definition, version, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, definition = excluded.definition, version = workflows.version + 1`,
		wf.ID, wf.Name, string(definition), wf.Version, wf.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_refs WHERE workflow_id = ?`, wf.ID); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, node := range wf.Nodes {
		if seen[node.BlockID] {
			continue
		}
		seen[node.BlockID] = true
		if _, err := tx.ExecContext(ctx, `INSERT INTO workflow_refs (workflow_id, block_id) VALUES (?, ?)`, wf.ID, node.BlockID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetWorkflow fetches a workflow by ID.
func (r *Registry) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var definition string
	err := r.db.QueryRowContext(ctx, `SELECT definition FROM workflows WHERE id = ?`, id).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: workflow %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}

	var wf models.Workflow
	if err := json.Unmarshal([]byte(definition), &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}
	return &wf, nil
}

// ListWorkflows returns all stored workflows, newest first.
func (r *Registry) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT definition FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, err
		}
		var wf models.Workflow
		if err := json.Unmarshal([]byte(definition), &wf); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
		}
		workflows = append(workflows, &wf)
	}
	return workflows, rows.Err()
}

// DeleteWorkflow removes a workflow and its references.
func (r *Registry) DeleteWorkflow(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: workflow %s", ErrNotFound, id)
	}
	return nil
}
