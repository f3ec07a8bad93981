package logging

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region schema
const decisionSchema = `
CREATE TABLE IF NOT EXISTS decision_log (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	tick            INTEGER NOT NULL,
	intersection_id TEXT NOT NULL,
	car_id          INTEGER NOT NULL,
	turn_id         TEXT,
	event           TEXT NOT NULL,
	admitted        INTEGER NOT NULL,
	reason          TEXT,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS decision_log_tick ON decision_log (tick);
`

// EnsureDecisionTable creates the decision_log table if needed.
func EnsureDecisionTable(db *sql.DB) error {
	if _, err := db.Exec(decisionSchema); err != nil {
		return fmt.Errorf("create decision_log: %w", err)
	}
	return nil
}

// #endregion schema

// #region log-decision

// LogDecision writes one entry to the decision_log table.
func LogDecision(db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO decision_log (tick, intersection_id, car_id, turn_id, event, admitted, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(entry.Tick),
		string(entry.Intersection),
		int64(entry.Car),
		nullIfEmpty(string(entry.Turn)),
		entry.Event,
		entry.Admitted,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// ListDecisions returns every logged entry in insertion order.
func ListDecisions(db *sql.DB) ([]DecisionEntry, error) {
	rows, err := db.Query(
		`SELECT id, tick, intersection_id, car_id, turn_id, event, admitted, reason, created_at
		 FROM decision_log ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var entries []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var tick, car int64
		var isect, event, created string
		var turn, reason sql.NullString
		if err := rows.Scan(&e.ID, &tick, &isect, &car, &turn, &event, &e.Admitted, &reason, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.Tick = sim.Tick(tick)
		e.Intersection = sim.IntersectionID(isect)
		e.Car = sim.CarID(car)
		e.Event = event
		if turn.Valid {
			e.Turn = sim.TurnID(turn.String)
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion log-decision

// #region decision-log

// DecisionLog records arbiter decisions into a SQLite database.
type DecisionLog struct {
	db *sql.DB
}

// NewDecisionLog creates the decision_log table if needed and returns a log.
func NewDecisionLog(db *sql.DB) (*DecisionLog, error) {
	if err := EnsureDecisionTable(db); err != nil {
		return nil, err
	}
	return &DecisionLog{db: db}, nil
}

// Record writes entry to the log.
func (d *DecisionLog) Record(entry DecisionEntry) error {
	return LogDecision(d.db, entry)
}

// #endregion decision-log

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
