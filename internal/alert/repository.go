package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/smartcat/habitat-core/internal/infrastructure/database"
)

// Repository persists alert history.
type Repository interface {
	// Append stores a and trims the device's history to the newest retain
	// alerts in the same transaction.
	Append(ctx context.Context, a Alert, retain int) error
	// List returns up to limit alerts for the device, newest first.
	List(ctx context.Context, deviceID string, limit int) ([]Alert, error)
}

// RuleRepository persists custom alert rules.
type RuleRepository interface {
	List(ctx context.Context) ([]Rule, error)
	// Get returns ErrRuleNotFound if the rule does not exist.
	Get(ctx context.Context, id int64) (*Rule, error)
	// Create assigns ID, CreatedAt and UpdatedAt.
	Create(ctx context.Context, r *Rule) error
	// Update returns ErrRuleNotFound if the rule does not exist.
	Update(ctx context.Context, r *Rule) error
	// Delete returns ErrRuleNotFound if the rule does not exist.
	Delete(ctx context.Context, id int64) error
}

const alertColumns = "id, device_id, timestamp, message, severity, message_key, message_variables, rule_id"

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append implements Repository.
func (r *SQLiteRepository) Append(ctx context.Context, a Alert, retain int) error {
	var vars, key sql.NullString
	if len(a.MessageVariables) > 0 {
		vars = sql.NullString{String: a.variablesJSON(), Valid: true}
	}
	if a.MessageKey != "" {
		key = sql.NullString{String: string(a.MessageKey), Valid: true}
	}
	var ruleID sql.NullInt64
	if a.RuleID != nil {
		ruleID = sql.NullInt64{Int64: *a.RuleID, Valid: true}
	}

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO alerts ("+alertColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			a.ID, a.DeviceID, database.FormatTime(a.Timestamp), a.Message, string(a.Severity), key, vars, ruleID,
		)
		if err != nil {
			return fmt.Errorf("inserting alert: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM alerts
			WHERE device_id = ? AND id NOT IN (
				SELECT id FROM alerts WHERE device_id = ?
				ORDER BY timestamp DESC, rowid DESC LIMIT ?
			)`,
			a.DeviceID, a.DeviceID, retain,
		)
		if err != nil {
			return fmt.Errorf("trimming alerts: %w", err)
		}
		return nil
	})
}

// List implements Repository.
func (r *SQLiteRepository) List(ctx context.Context, deviceID string, limit int) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE device_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?",
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var (
			a         Alert
			ts, sev   string
			key, vars sql.NullString
			ruleID    sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.DeviceID, &ts, &a.Message, &sev, &key, &vars, &ruleID); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		a.Timestamp, _ = database.ParseTime(ts) //nolint:errcheck // written by this package
		a.Severity = Severity(sev)
		a.MessageKey = Key(key.String)
		if vars.Valid {
			if err := json.Unmarshal([]byte(vars.String), &a.MessageVariables); err != nil {
				return nil, fmt.Errorf("decoding alert variables: %w", err)
			}
		}
		if ruleID.Valid {
			id := ruleID.Int64
			a.RuleID = &id
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}
	return alerts, nil
}
