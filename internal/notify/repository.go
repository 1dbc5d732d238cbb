package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smartcat/habitat-core/internal/alert"
	"github.com/smartcat/habitat-core/internal/infrastructure/database"
)

// TargetRepository persists delivery targets.
type TargetRepository interface {
	SaveWebSubscription(ctx context.Context, s WebSubscription) error
	// RemoveWebSubscription returns ErrTargetNotFound if nothing was removed.
	RemoveWebSubscription(ctx context.Context, endpoint string) error
	ListWebSubscriptions(ctx context.Context) ([]WebSubscription, error)

	// SaveNativeDevice upserts by token, keeping the original CreatedAt.
	SaveNativeDevice(ctx context.Context, d NativeDevice) error
	// RemoveNativeDevice returns ErrTargetNotFound if nothing was removed.
	RemoveNativeDevice(ctx context.Context, token string) error
	// RemoveNativeDevices removes every listed token and reports how many existed.
	RemoveNativeDevices(ctx context.Context, tokens []string) (int, error)
	ListNativeDevices(ctx context.Context) ([]NativeDevice, error)
}

// SQLiteTargetRepository implements TargetRepository using SQLite.
type SQLiteTargetRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteTargetRepository creates a new SQLite-backed target repository.
func NewSQLiteTargetRepository(db *sql.DB) *SQLiteTargetRepository {
	return &SQLiteTargetRepository{db: db, now: time.Now}
}

// SaveWebSubscription implements TargetRepository.
func (r *SQLiteTargetRepository) SaveWebSubscription(ctx context.Context, s WebSubscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (endpoint, p256dh, auth, language, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			language = excluded.language`,
		s.Endpoint, s.Keys.P256dh, s.Keys.Auth, string(s.Language), database.FormatTime(r.now()),
	)
	if err != nil {
		return fmt.Errorf("saving push subscription: %w", err)
	}
	return nil
}

// RemoveWebSubscription implements TargetRepository.
func (r *SQLiteTargetRepository) RemoveWebSubscription(ctx context.Context, endpoint string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint)
	if err != nil {
		return fmt.Errorf("removing push subscription: %w", err)
	}
	return requireRemoved(result)
}

// ListWebSubscriptions implements TargetRepository.
func (r *SQLiteTargetRepository) ListWebSubscriptions(ctx context.Context) ([]WebSubscription, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT endpoint, p256dh, auth, language, created_at FROM push_subscriptions ORDER BY created_at, endpoint")
	if err != nil {
		return nil, fmt.Errorf("querying push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []WebSubscription
	for rows.Next() {
		var (
			s               WebSubscription
			lang, createdAt string
		)
		if err := rows.Scan(&s.Endpoint, &s.Keys.P256dh, &s.Keys.Auth, &lang, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning push subscription: %w", err)
		}
		s.Language = alert.Lang(lang)
		s.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // written by this package
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating push subscriptions: %w", err)
	}
	return subs, nil
}

// SaveNativeDevice implements TargetRepository.
func (r *SQLiteTargetRepository) SaveNativeDevice(ctx context.Context, d NativeDevice) error {
	var meta sql.NullString
	if len(d.Metadata) > 0 {
		data, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("%w: metadata: %w", ErrInvalidTarget, err)
		}
		meta = sql.NullString{String: string(data), Valid: true}
	}
	now := database.FormatTime(r.now())

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO native_push_devices (token, platform, transport, language, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			platform = excluded.platform,
			transport = excluded.transport,
			language = excluded.language,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at`,
		d.Token, string(d.Platform), string(d.Transport), string(d.Language), meta, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving native push device: %w", err)
	}
	return nil
}

// RemoveNativeDevice implements TargetRepository.
func (r *SQLiteTargetRepository) RemoveNativeDevice(ctx context.Context, token string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM native_push_devices WHERE token = ?", token)
	if err != nil {
		return fmt.Errorf("removing native push device: %w", err)
	}
	return requireRemoved(result)
}

// RemoveNativeDevices implements TargetRepository.
func (r *SQLiteTargetRepository) RemoveNativeDevices(ctx context.Context, tokens []string) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	args := make([]any, len(tokens))
	for i, t := range tokens {
		args[i] = t
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tokens)), ",")

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM native_push_devices WHERE token IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("removing native push devices: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// ListNativeDevices implements TargetRepository.
func (r *SQLiteTargetRepository) ListNativeDevices(ctx context.Context) ([]NativeDevice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token, platform, transport, language, metadata_json, created_at, updated_at
		FROM native_push_devices ORDER BY created_at, token`)
	if err != nil {
		return nil, fmt.Errorf("querying native push devices: %w", err)
	}
	defer rows.Close()

	var devices []NativeDevice
	for rows.Next() {
		var (
			d                         NativeDevice
			platform, transport, lang string
			meta                      sql.NullString
			createdAt, updatedAt      string
		)
		if err := rows.Scan(&d.Token, &platform, &transport, &lang, &meta, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning native push device: %w", err)
		}
		d.Platform = Platform(platform)
		d.Transport = NormalizeTransport(transport)
		d.Language = alert.Lang(lang)
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &d.Metadata); err != nil {
				return nil, fmt.Errorf("decoding device metadata: %w", err)
			}
		}
		d.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // written by this package
		d.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // written by this package
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating native push devices: %w", err)
	}
	return devices, nil
}

func requireRemoved(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrTargetNotFound
	}
	return nil
}
