package checkpoint

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/intersection-controller/internal/policy"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	tick          INTEGER NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES checkpoints(version_id)
);

CREATE TABLE IF NOT EXISTS checkpoint_policies (
	version_id      TEXT NOT NULL,
	intersection_id TEXT NOT NULL,
	kind            TEXT NOT NULL,
	accepted        INTEGER NOT NULL,
	waiting         INTEGER NOT NULL,
	state_json      TEXT NOT NULL,
	PRIMARY KEY (version_id, intersection_id),
	FOREIGN KEY (version_id) REFERENCES checkpoints(version_id)
);

CREATE TABLE IF NOT EXISTS active_checkpoint (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES checkpoints(version_id)
);
`

// #endregion schema

// #region store-struct

// Store keeps versioned checkpoints in SQLite. Each save links to the
// previously active checkpoint and becomes the active one.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB so the decision log can share the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region save

// Save stores cp as a new version and makes it active. An empty VersionID is
// assigned a uuid, an empty ParentID links to the currently active version,
// and a zero CreatedAt is set to now. The stored checkpoint is returned.
func (s *Store) Save(cp Checkpoint) (Checkpoint, error) {
	if cp.VersionID == "" {
		cp.VersionID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.Policies = slices.Clone(cp.Policies)
	sort.Slice(cp.Policies, func(i, j int) bool {
		return cp.Policies[i].Intersection < cp.Policies[j].Intersection
	})

	tx, err := s.db.Begin()
	if err != nil {
		return Checkpoint{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if cp.ParentID == "" {
		var active string
		err := tx.QueryRow(`SELECT version_id FROM active_checkpoint WHERE id = 1`).Scan(&active)
		switch {
		case err == nil:
			cp.ParentID = active
		case !errors.Is(err, sql.ErrNoRows):
			return Checkpoint{}, fmt.Errorf("get active: %w", err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO checkpoints (version_id, parent_id, tick, created_at) VALUES (?, ?, ?, ?)`,
		cp.VersionID, nullIfEmpty(cp.ParentID), int64(cp.Tick), cp.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("insert checkpoint: %w", err)
	}

	for _, snap := range cp.Policies {
		stateJSON, err := json.Marshal(snap)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("marshal policy %s: %w", snap.Intersection, err)
		}
		accepted, waiting := counts(snap)
		_, err = tx.Exec(
			`INSERT INTO checkpoint_policies (version_id, intersection_id, kind, accepted, waiting, state_json)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			cp.VersionID, string(snap.Intersection), string(snap.Kind), accepted, waiting, string(stateJSON),
		)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("insert policy %s: %w", snap.Intersection, err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO active_checkpoint (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		cp.VersionID,
	)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Checkpoint{}, fmt.Errorf("commit: %w", err)
	}
	return cp, nil
}

// #endregion save

// #region get-current

// GetCurrent reads the active checkpoint.
func (s *Store) GetCurrent() (Checkpoint, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_checkpoint WHERE id = 1`).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetVersion(versionID)
}

// #endregion get-current

// #region get-version

// GetVersion retrieves a specific checkpoint with all its policy states.
func (s *Store) GetVersion(id string) (Checkpoint, error) {
	var cp Checkpoint
	var parentID sql.NullString
	var tick int64
	var createdStr string

	err := s.db.QueryRow(
		`SELECT version_id, parent_id, tick, created_at FROM checkpoints WHERE version_id = ?`, id,
	).Scan(&cp.VersionID, &parentID, &tick, &createdStr)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("get version %s: %w", id, err)
	}
	if parentID.Valid {
		cp.ParentID = parentID.String
	}
	cp.Tick = sim.Tick(tick)
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)

	rows, err := s.db.Query(
		`SELECT state_json FROM checkpoint_policies WHERE version_id = ? ORDER BY intersection_id ASC`, id,
	)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("get policies %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var stateJSON string
		if err := rows.Scan(&stateJSON); err != nil {
			return Checkpoint{}, fmt.Errorf("scan policy: %w", err)
		}
		var snap policy.Snapshot
		if err := json.Unmarshal([]byte(stateJSON), &snap); err != nil {
			return Checkpoint{}, fmt.Errorf("unmarshal policy: %w", err)
		}
		cp.Policies = append(cp.Policies, snap)
	}
	return cp, rows.Err()
}

// #endregion get-version

// #region rollback

// Rollback sets the active pointer to a previous version.
func (s *Store) Rollback(targetVersionID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM checkpoints WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s not found", targetVersionID)
	}

	_, err = s.db.Exec(
		`INSERT INTO active_checkpoint (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		targetVersionID,
	)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-versions

// ListVersions returns summaries of the most recent checkpoints, newest first.
func (s *Store) ListVersions(limit int) ([]VersionInfo, error) {
	rows, err := s.db.Query(
		`SELECT c.version_id, c.parent_id, c.tick, c.created_at,
		        COUNT(p.intersection_id), COALESCE(SUM(p.accepted), 0), COALESCE(SUM(p.waiting), 0),
		        c.version_id = COALESCE((SELECT version_id FROM active_checkpoint WHERE id = 1), '')
		 FROM checkpoints c
		 LEFT JOIN checkpoint_policies p ON p.version_id = c.version_id
		 GROUP BY c.version_id
		 ORDER BY c.rowid DESC
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var infos []VersionInfo
	for rows.Next() {
		var info VersionInfo
		var parentID sql.NullString
		var tick int64
		var createdStr string
		if err := rows.Scan(&info.VersionID, &parentID, &tick, &createdStr,
			&info.PolicyCount, &info.Accepted, &info.Waiting, &info.Active); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if parentID.Valid {
			info.ParentID = parentID.String
		}
		info.Tick = sim.Tick(tick)
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// #endregion list-versions

// #region helpers

func counts(snap policy.Snapshot) (accepted, waiting int) {
	switch {
	case snap.StopSign != nil:
		return len(snap.StopSign.Accepted), len(snap.StopSign.Waiting)
	case snap.TrafficSignal != nil:
		return len(snap.TrafficSignal.Accepted), 0
	}
	return 0, 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
