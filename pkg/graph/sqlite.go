package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout bounds every store call unless overridden.
const DefaultTimeout = 5 * time.Second

// SQLiteStore implements Store using SQLite as the backend.
type SQLiteStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLiteStore creates a new SQLite-backed graph store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
// Creates tables and indexes if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A pooled second connection to ":memory:" would open a separate empty
	// database, so in-memory stores are pinned to one connection.
	if strings.Contains(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db, timeout: DefaultTimeout}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// WithTimeout overrides the per-call timeout. Zero disables the bound.
func (s *SQLiteStore) WithTimeout(d time.Duration) *SQLiteStore {
	s.timeout = d
	return s
}

func (s *SQLiteStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// initSchema creates the database schema if it doesn't exist.
// Also performs schema migrations for new columns.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		name TEXT COLLATE NOCASE,
		type TEXT,
		universe_id TEXT,
		props TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_label ON nodes(label);
	CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name COLLATE NOCASE);
	CREATE INDEX IF NOT EXISTS idx_nodes_universe ON nodes(universe_id);

	CREATE TABLE IF NOT EXISTS edges (
		source_id TEXT NOT NULL,
		relation TEXT NOT NULL,
		target_id TEXT NOT NULL,
		discriminator TEXT NOT NULL DEFAULT '',
		weight REAL,
		seq INTEGER,
		props TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (source_id, relation, target_id, discriminator)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id, relation);
	CREATE INDEX IF NOT EXISTS idx_edges_relation ON edges(relation);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	return s.migrateSchema()
}

// migrateSchema adds new columns to existing tables if they don't exist.
func (s *SQLiteStore) migrateSchema() error {
	if !s.columnExists("nodes", "universe_id") {
		_, err := s.db.Exec("ALTER TABLE nodes ADD COLUMN universe_id TEXT")
		if err != nil {
			return fmt.Errorf("failed to add universe_id column: %w", err)
		}
	}

	if !s.columnExists("edges", "seq") {
		_, err := s.db.Exec("ALTER TABLE edges ADD COLUMN seq INTEGER")
		if err != nil {
			return fmt.Errorf("failed to add seq column: %w", err)
		}
	}

	return nil
}

// columnExists checks if a column exists in a table.
func (s *SQLiteStore) columnExists(tableName, columnName string) bool {
	query := fmt.Sprintf("PRAGMA table_info(%s)", tableName)
	rows, err := s.db.Query(query)
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int

		err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk)
		if err != nil {
			return false
		}

		if name == columnName {
			return true
		}
	}

	return false
}

// UpsertNode adds a node or merges it into an existing node with the same ID.
func (s *SQLiteStore) UpsertNode(ctx context.Context, node *Node) error {
	if node.ID == "" {
		return fmt.Errorf("node ID is required")
	}
	if node.Label == "" {
		return fmt.Errorf("node label is required")
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}

	var propsJSON []byte
	var err error
	if node.Props != nil {
		propsJSON, err = json.Marshal(node.Props)
		if err != nil {
			return fmt.Errorf("failed to marshal props: %w", err)
		}
	}

	query := `
		INSERT INTO nodes (id, label, name, type, universe_id, props, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = coalesce(nullif(excluded.name, ''), nodes.name),
			type = coalesce(nullif(excluded.type, ''), nodes.type),
			universe_id = coalesce(nullif(excluded.universe_id, ''), nodes.universe_id),
			props = CASE
				WHEN excluded.props IS NULL THEN nodes.props
				WHEN nodes.props IS NULL THEN excluded.props
				ELSE json_patch(nodes.props, excluded.props)
			END
	`

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err = s.db.ExecContext(ctx, query,
		node.ID,
		node.Label,
		node.Name,
		node.Type,
		node.UniverseID,
		nullable(propsJSON),
		node.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}

	return nil
}

// UpsertEdge adds an edge or merges it into the existing edge with the same
// (source, relation, target, discriminator).
func (s *SQLiteStore) UpsertEdge(ctx context.Context, edge *Edge) error {
	if edge.SourceID == "" || edge.TargetID == "" {
		return fmt.Errorf("edge source and target are required")
	}
	if edge.Relation == "" {
		return fmt.Errorf("edge relation is required")
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now()
	}

	var propsJSON []byte
	var err error
	if edge.Props != nil {
		propsJSON, err = json.Marshal(edge.Props)
		if err != nil {
			return fmt.Errorf("failed to marshal props: %w", err)
		}
	}

	query := `
		INSERT INTO edges (source_id, relation, target_id, discriminator, weight, seq, props, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, relation, target_id, discriminator) DO UPDATE SET
			weight = coalesce(excluded.weight, edges.weight),
			seq = coalesce(excluded.seq, edges.seq),
			props = CASE
				WHEN excluded.props IS NULL THEN edges.props
				WHEN edges.props IS NULL THEN excluded.props
				ELSE json_patch(edges.props, excluded.props)
			END
	`

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err = s.db.ExecContext(ctx, query,
		edge.SourceID,
		edge.Relation,
		edge.TargetID,
		edge.Discriminator,
		edge.Weight,
		edge.Seq,
		nullable(propsJSON),
		edge.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}

	return nil
}

// GetNode retrieves a node by its ID.
func (s *SQLiteStore) GetNode(ctx context.Context, id string) (*Node, error) {
	query := `
		SELECT id, label, coalesce(name, ''), coalesce(type, ''), coalesce(universe_id, ''), props, created_at
		FROM nodes
		WHERE id = ?
	`

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var node Node
	var propsJSON []byte

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&node.ID,
		&node.Label,
		&node.Name,
		&node.Type,
		&node.UniverseID,
		&propsJSON,
		&node.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	if len(propsJSON) > 0 {
		if err := json.Unmarshal(propsJSON, &node.Props); err != nil {
			return nil, fmt.Errorf("failed to unmarshal props: %w", err)
		}
	}

	return &node, nil
}

// GetEdge retrieves an edge by its identity quad.
func (s *SQLiteStore) GetEdge(ctx context.Context, sourceID, relation, targetID, discriminator string) (*Edge, error) {
	query := `
		SELECT source_id, relation, target_id, discriminator, weight, seq, props, created_at
		FROM edges
		WHERE source_id = ? AND relation = ? AND target_id = ? AND discriminator = ?
	`

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var edge Edge
	var weight sql.NullFloat64
	var seq sql.NullInt64
	var propsJSON []byte

	err := s.db.QueryRowContext(ctx, query, sourceID, relation, targetID, discriminator).Scan(
		&edge.SourceID,
		&edge.Relation,
		&edge.TargetID,
		&edge.Discriminator,
		&weight,
		&seq,
		&propsJSON,
		&edge.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edge: %w", err)
	}

	if weight.Valid {
		edge.Weight = &weight.Float64
	}
	if seq.Valid {
		edge.Seq = &seq.Int64
	}
	if len(propsJSON) > 0 {
		if err := json.Unmarshal(propsJSON, &edge.Props); err != nil {
			return nil, fmt.Errorf("failed to unmarshal props: %w", err)
		}
	}

	return &edge, nil
}

// NodeExists reports whether a node with the given ID exists.
func (s *SQLiteStore) NodeExists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM nodes WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe node: %w", err)
	}
	return true, nil
}

// FilterExisting returns the subset of ids that exist as nodes.
func (s *SQLiteStore) FilterExisting(ctx context.Context, ids []string) (map[string]bool, error) {
	present := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return present, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf("SELECT id FROM nodes WHERE id IN (%s)", strings.Join(placeholders, ","))

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to filter nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan node id: %w", err)
		}
		present[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node ids: %w", err)
	}

	return present, nil
}

// NextSeq returns max(seq)+1 over edges with the given source and relation.
func (s *SQLiteStore) NextSeq(ctx context.Context, sourceID, relation string) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var next int64
	err := s.db.QueryRowContext(ctx,
		"SELECT coalesce(max(seq), -1) + 1 FROM edges WHERE source_id = ? AND relation = ?",
		sourceID, relation,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next sequence index: %w", err)
	}
	return next, nil
}

// Rows executes a parameterized read query and returns its rows.
func (s *SQLiteStore) Rows(ctx context.Context, query string, params map[string]interface{}) ([]Row, error) {
	args := make([]interface{}, 0, len(params))
	for name, value := range params {
		args = append(args, sql.Named(name, value))
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

// NodeCount returns the total number of nodes in the graph.
func (s *SQLiteStore) NodeCount(ctx context.Context) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// EdgeCount returns the total number of edges in the graph.
func (s *SQLiteStore) EdgeCount(ctx context.Context) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM edges").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return count, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullable(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
