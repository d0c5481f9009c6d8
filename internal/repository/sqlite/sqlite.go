package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"mixbridge/internal/domain"
)

// Repository implements repository.Repository using SQLite
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; also keeps ":memory:" on a single database
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS topology (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		mode TEXT NOT NULL,
		active_parallel TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS endpoints (
		id TEXT PRIMARY KEY,
		protocol TEXT NOT NULL,
		host TEXT,
		port INTEGER,
		capacity INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS protocols (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		host TEXT,
		port INTEGER
	);

	CREATE TABLE IF NOT EXISTS mutes (
		protocol_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		address INTEGER NOT NULL,
		PRIMARY KEY (protocol_id, kind, address),
		FOREIGN KEY (protocol_id) REFERENCES protocols(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS entities (
		id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		address INTEGER NOT NULL,
		coms_mode INTEGER NOT NULL,
		name TEXT,
		param_values JSON
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value JSON NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_entities_kind_address ON entities(kind, address);
	`

	_, err := r.db.Exec(schema)
	return err
}

// LoadProject loads the saved project, or nil if nothing was saved
func (r *Repository) LoadProject(ctx context.Context) (*domain.Project, error) {
	var (
		mode           string
		activeParallel sql.NullString
		version        int
	)
	err := r.db.QueryRowContext(ctx, `SELECT mode, active_parallel, version FROM topology WHERE id = 1`).
		Scan(&mode, &activeParallel, &version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query topology: %w", err)
	}

	p := &domain.Project{
		Version: version,
		Topology: domain.TopologyConfig{
			Mode:           domain.TopologyMode(mode),
			ActiveParallel: domain.EndpointID(nullToString(activeParallel)),
		},
		Mutes: make(map[domain.ProtocolID]domain.MuteList),
	}

	if err := r.loadEndpoints(ctx, p); err != nil {
		return nil, err
	}
	if err := r.loadProtocols(ctx, p); err != nil {
		return nil, err
	}
	if err := r.loadMutes(ctx, p); err != nil {
		return nil, err
	}
	if err := r.loadEntities(ctx, p); err != nil {
		return nil, err
	}
	p.Normalize()
	return p, nil
}

func (r *Repository) loadEndpoints(ctx context.Context, p *domain.Project) error {
	rows, err := r.db.QueryContext(ctx, `SELECT `+endpointColumns+` FROM endpoints`)
	if err != nil {
		return fmt.Errorf("failed to query endpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row endpointRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return fmt.Errorf("failed to scan endpoint: %w", err)
		}
		ep := row.toDomain()
		switch ep.ID {
		case domain.EndpointPrimary:
			p.Topology.Primary = ep
		case domain.EndpointSecondary:
			p.Topology.Secondary = &ep
		default:
			return fmt.Errorf("unknown endpoint %q in database", ep.ID)
		}
	}
	return rows.Err()
}

func (r *Repository) loadProtocols(ctx context.Context, p *domain.Project) error {
	rows, err := r.db.QueryContext(ctx, `SELECT id, type, host, port FROM protocols ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to query protocols: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, typ string
			host    sql.NullString
			port    sql.NullInt64
		)
		if err := rows.Scan(&id, &typ, &host, &port); err != nil {
			return fmt.Errorf("failed to scan protocol: %w", err)
		}
		p.Protocols = append(p.Protocols, domain.ProtocolSpec{
			ID:   domain.ProtocolID(id),
			Type: domain.ProtocolType(typ),
			Host: nullToString(host),
			Port: int(port.Int64),
		})
	}
	return rows.Err()
}

func (r *Repository) loadMutes(ctx context.Context, p *domain.Project) error {
	rows, err := r.db.QueryContext(ctx, `SELECT protocol_id, kind, address FROM mutes ORDER BY protocol_id, kind, address`)
	if err != nil {
		return fmt.Errorf("failed to query mutes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			protocol, kind string
			addr           int
		)
		if err := rows.Scan(&protocol, &kind, &addr); err != nil {
			return fmt.Errorf("failed to scan mute: %w", err)
		}
		id := domain.ProtocolID(protocol)
		if p.Mutes[id] == nil {
			p.Mutes[id] = make(domain.MuteList)
		}
		k := domain.ProcessorKind(kind)
		p.Mutes[id][k] = append(p.Mutes[id][k], addr)
	}
	return rows.Err()
}

func (r *Repository) loadEntities(ctx context.Context, p *domain.Project) error {
	rows, err := r.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row entityRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return fmt.Errorf("failed to scan entity: %w", err)
		}
		e, err := row.toDomain()
		if err != nil {
			return fmt.Errorf("failed to unmarshal values of entity %d: %w", row.ID, err)
		}
		p.Entities = append(p.Entities, e)
	}
	return rows.Err()
}

// SaveProject replaces all data with the provided project
func (r *Repository) SaveProject(ctx context.Context, p *domain.Project) error {
	if p == nil {
		return fmt.Errorf("nil project")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Clear existing data (mutes cascade from protocols)
	for _, table := range []string{"entities", "mutes", "protocols", "endpoints", "topology"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	version := p.Version
	if version == 0 {
		version = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO topology (id, mode, active_parallel, version, updated_at)
		VALUES (1, ?, ?, ?, CURRENT_TIMESTAMP)
	`, string(p.Topology.Mode), stringToNull(string(p.Topology.ActiveParallel)), version); err != nil {
		return fmt.Errorf("failed to insert topology: %w", err)
	}

	endpoints := []domain.Endpoint{p.Topology.Primary}
	if p.Topology.Secondary != nil {
		endpoints = append(endpoints, *p.Topology.Secondary)
	}
	for _, ep := range endpoints {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO endpoints (`+endpointColumns+`) VALUES (?, ?, ?, ?, ?)
		`, string(ep.ID), string(ep.Protocol), stringToNull(ep.Host), intToNull(ep.Port), ep.Capacity); err != nil {
			return fmt.Errorf("failed to insert endpoint %s: %w", ep.ID, err)
		}
	}

	for _, spec := range p.Protocols {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO protocols (id, type, host, port) VALUES (?, ?, ?, ?)
		`, string(spec.ID), string(spec.Type), stringToNull(spec.Host), intToNull(spec.Port)); err != nil {
			return fmt.Errorf("failed to insert protocol %s: %w", spec.ID, err)
		}
	}

	if err := insertMutes(ctx, tx, p.Mutes); err != nil {
		return err
	}

	entityStmt, err := tx.PrepareContext(ctx, `INSERT INTO entities (`+entityColumns+`) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare entity statement: %w", err)
	}
	defer entityStmt.Close()

	for _, e := range p.Entities {
		args, err := entityInsertArgs(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entity %d: %w", e.ID, err)
		}
		if _, err := entityStmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert entity %d: %w", e.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO metadata (key, value, updated_at) VALUES ('last_save', ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, fmt.Sprintf(`"%s"`, time.Now().UTC().Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("failed to store save timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertMutes(ctx context.Context, tx *sql.Tx, mutes map[domain.ProtocolID]domain.MuteList) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO mutes (protocol_id, kind, address) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare mute statement: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, 0, len(mutes))
	for id := range mutes {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		for kind, addrs := range mutes[domain.ProtocolID(id)] {
			for _, addr := range addrs {
				if _, err := stmt.ExecContext(ctx, id, string(kind), addr); err != nil {
					return fmt.Errorf("failed to insert mute %s/%s/%d: %w", id, kind, addr, err)
				}
			}
		}
	}
	return nil
}

// SavedAt returns when the project was last saved
func (r *Repository) SavedAt(ctx context.Context) (time.Time, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = 'last_save'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query save timestamp: %w", err)
	}
	if len(raw) >= 2 && raw[0] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse save timestamp: %w", err)
	}
	return ts, true, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}
