package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smartcat/habitat-core/internal/infrastructure/database"
)

const ruleColumns = "id, metric, comparison, threshold, severity, message, enabled, created_at, updated_at"

// SQLiteRuleRepository implements RuleRepository using SQLite.
type SQLiteRuleRepository struct {
	db *sql.DB
}

// NewSQLiteRuleRepository creates a new SQLite-backed rule repository.
func NewSQLiteRuleRepository(db *sql.DB) *SQLiteRuleRepository {
	return &SQLiteRuleRepository{db: db}
}

// List returns every rule ordered by ID.
func (r *SQLiteRuleRepository) List(ctx context.Context) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+ruleColumns+" FROM alert_rules ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying alert rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alert rules: %w", err)
	}
	return rules, nil
}

// Get returns a rule by ID.
func (r *SQLiteRuleRepository) Get(ctx context.Context, id int64) (*Rule, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM alert_rules WHERE id = ?", id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying alert rule: %w", err)
	}
	return rule, nil
}

// Create inserts a rule and assigns its ID and timestamps.
func (r *SQLiteRuleRepository) Create(ctx context.Context, rule *Rule) error {
	now := time.Now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_rules (metric, comparison, threshold, severity, message, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rule.Metric), string(rule.Comparison), rule.Threshold, string(rule.Severity),
		nullString(rule.Message), rule.Enabled, database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		return fmt.Errorf("inserting alert rule: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading alert rule id: %w", err)
	}
	rule.ID = id
	return nil
}

// Update replaces a rule's fields and bumps UpdatedAt.
func (r *SQLiteRuleRepository) Update(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE alert_rules
		SET metric = ?, comparison = ?, threshold = ?, severity = ?, message = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		string(rule.Metric), string(rule.Comparison), rule.Threshold, string(rule.Severity),
		nullString(rule.Message), rule.Enabled, database.FormatTime(rule.UpdatedAt), rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating alert rule: %w", err)
	}
	return requireOneRow(result)
}

// Delete removes a rule.
func (r *SQLiteRuleRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting alert rule: %w", err)
	}
	return requireOneRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(s rowScanner) (*Rule, error) {
	var (
		rule                 Rule
		metric, cmp, sev     string
		msg                  sql.NullString
		createdAt, updatedAt string
	)
	if err := s.Scan(&rule.ID, &metric, &cmp, &rule.Threshold, &sev, &msg, &rule.Enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rule.Metric = Metric(metric)
	rule.Comparison = Comparison(cmp)
	rule.Severity = Severity(sev)
	if msg.Valid {
		rule.Message = &msg.String
	}
	rule.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // written by this package
	rule.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // written by this package
	return &rule, nil
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
