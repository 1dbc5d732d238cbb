package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smartcat/habitat-core/internal/device"
	"github.com/smartcat/habitat-core/internal/infrastructure/database"
)

// DefaultMaxClaimBatch bounds ClaimBatch when no limit is configured.
const DefaultMaxClaimBatch = 20

const commandColumns = "id, device_id, type, payload_json, status, result_message, created_at, claimed_at, completed_at"

// Logger defines the logging interface used by the queue.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Notifier is told about every newly enqueued command, for example to
// announce it to the device over MQTT.
type Notifier interface {
	Announce(ctx context.Context, cmd Command) error
}

// Queue is the SQLite-backed hardware command queue.
type Queue struct {
	db       *sql.DB
	maxBatch int
	logger   Logger

	mu        sync.RWMutex
	notifiers []Notifier
	now       func() time.Time
}

// NewQueue creates a queue over db.
//
// Parameters:
//   - db: migrated SQLite handle holding hardware_commands
//   - maxBatch: upper bound for ClaimBatch; <= 0 means DefaultMaxClaimBatch
func NewQueue(db *sql.DB, maxBatch int) *Queue {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxClaimBatch
	}
	return &Queue{
		db:       db,
		maxBatch: maxBatch,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the queue.
func (q *Queue) SetLogger(logger Logger) {
	q.logger = logger
}

// AddNotifier registers a notifier called after every successful enqueue.
func (q *Queue) AddNotifier(n Notifier) {
	q.mu.Lock()
	q.notifiers = append(q.notifiers, n)
	q.mu.Unlock()
}

// Enqueue stores a pending command addressed to the default device.
func (q *Queue) Enqueue(ctx context.Context, cmdType Type, payload json.RawMessage) (*Command, error) {
	return q.EnqueueFor(ctx, device.DefaultID, cmdType, payload)
}

// EnqueueFor validates the payload for cmdType and stores a pending command
// addressed to deviceID.
func (q *Queue) EnqueueFor(ctx context.Context, deviceID string, cmdType Type, payload json.RawMessage) (*Command, error) {
	normalized, err := normalizePayload(cmdType, payload)
	if err != nil {
		return nil, err
	}

	row := q.db.QueryRowContext(ctx,
		"INSERT INTO hardware_commands (device_id, type, payload_json, status, created_at) VALUES (?, ?, ?, ?, ?) RETURNING "+commandColumns,
		device.NormalizeID(deviceID), string(cmdType), string(normalized), string(StatusPending), database.FormatTime(q.now()),
	)
	cmd, err := scanCommand(row)
	if err != nil {
		return nil, fmt.Errorf("inserting command: %w", err)
	}

	q.logger.Info("command enqueued", "command_id", cmd.ID, "device_id", cmd.DeviceID, "type", cmd.Type)

	q.mu.RLock()
	notifiers := append([]Notifier(nil), q.notifiers...)
	q.mu.RUnlock()
	for _, n := range notifiers {
		if err := n.Announce(ctx, *cmd); err != nil {
			q.logger.Warn("command announcement failed", "command_id", cmd.ID, "error", err)
		}
	}
	return cmd, nil
}

// ClaimNext atomically claims the oldest pending command.
// Returns nil, nil when nothing is pending.
func (q *Queue) ClaimNext(ctx context.Context) (*Command, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE hardware_commands
		SET status = ?, claimed_at = ?
		WHERE id = (
			SELECT id FROM hardware_commands
			WHERE status = ?
			ORDER BY created_at, id
			LIMIT 1
		)
		RETURNING `+commandColumns,
		string(StatusClaimed), database.FormatTime(q.now()), string(StatusPending),
	)
	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming command: %w", err)
	}
	q.logger.Debug("command claimed", "command_id", cmd.ID, "type", cmd.Type)
	return cmd, nil
}

// ClaimBatch claims up to limit commands, clamped to [1, maxBatch].
func (q *Queue) ClaimBatch(ctx context.Context, limit int) ([]Command, error) {
	limit = max(1, min(limit, q.maxBatch))

	claimed := make([]Command, 0, limit)
	for len(claimed) < limit {
		cmd, err := q.ClaimNext(ctx)
		if err != nil {
			return claimed, err
		}
		if cmd == nil {
			break
		}
		claimed = append(claimed, *cmd)
	}
	return claimed, nil
}

// Complete records the outcome reported by the device.
// Returns nil, nil when the command does not exist.
func (q *Queue) Complete(ctx context.Context, id int64, status Status, resultMessage string) (*Command, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: %q must be completed or failed", ErrInvalidStatus, status)
	}

	var result any
	if resultMessage != "" {
		result = resultMessage
	}
	row := q.db.QueryRowContext(ctx,
		"UPDATE hardware_commands SET status = ?, result_message = ?, completed_at = ? WHERE id = ? RETURNING "+commandColumns,
		string(status), result, database.FormatTime(q.now()), id,
	)
	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("completing command: %w", err)
	}
	q.logger.Info("command completed", "command_id", cmd.ID, "status", cmd.Status)
	return cmd, nil
}

// ResetStale returns claims older than timeout to pending.
func (q *Queue) ResetStale(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := database.FormatTime(q.now().Add(-timeout))
	rows, err := q.db.QueryContext(ctx, `
		UPDATE hardware_commands
		SET status = ?, claimed_at = NULL
		WHERE status = ? AND claimed_at < ?
		RETURNING id`,
		string(StatusPending), string(StatusClaimed), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("resetting stale commands: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scanning reset command id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating reset commands: %w", err)
	}

	if len(ids) > 0 {
		q.logger.Warn("stale command claims reset to pending", "count", len(ids), "command_ids", ids)
	}
	return len(ids), nil
}

// Get returns a command by ID or ErrCommandNotFound.
func (q *Queue) Get(ctx context.Context, id int64) (*Command, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+commandColumns+" FROM hardware_commands WHERE id = ?", id)
	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCommandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying command: %w", err)
	}
	return cmd, nil
}

// List returns up to limit commands, newest first. An empty status lists all.
func (q *Queue) List(ctx context.Context, status Status, limit int) ([]Command, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, status)
	}
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + commandColumns + " FROM hardware_commands"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing commands: %w", err)
	}
	defer rows.Close()

	var cmds []Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		cmds = append(cmds, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return cmds, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(s rowScanner) (*Command, error) {
	var (
		cmd                    Command
		cmdType, status        string
		payload, createdAt     string
		result                 sql.NullString
		claimedAt, completedAt sql.NullString
	)
	if err := s.Scan(&cmd.ID, &cmd.DeviceID, &cmdType, &payload, &status, &result, &createdAt, &claimedAt, &completedAt); err != nil {
		return nil, err
	}
	cmd.Type = Type(cmdType)
	cmd.Status = Status(status)
	cmd.Payload = json.RawMessage(payload)
	cmd.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // written by this package
	if result.Valid {
		cmd.ResultMessage = &result.String
	}
	cmd.ClaimedAt = nullTime(claimedAt)
	cmd.CompletedAt = nullTime(completedAt)
	return &cmd, nil
}

func nullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := database.ParseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}
