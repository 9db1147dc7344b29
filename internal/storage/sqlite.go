package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hookflow/hookflow/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS organizations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			api_key TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			secret TEXT NOT NULL,
			event_types TEXT NOT NULL DEFAULT '[]',
			active INTEGER NOT NULL DEFAULT 1,
			last_triggered_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_attempts (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			response_code INTEGER,
			response_body TEXT NOT NULL DEFAULT '',
			next_retry_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_organizations_api_key ON organizations(api_key)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_org ON subscriptions(org_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_subscription ON delivery_attempts(subscription_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_due ON delivery_attempts(next_retry_at)
			WHERE status IN ('pending', 'failed') AND next_retry_at IS NOT NULL`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Organizations ---

func (s *SQLiteStorage) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, api_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.APIKey, org.CreatedAt, org.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM organizations WHERE id = ?`, id,
	).Scan(&org.ID, &org.Name, &org.APIKey, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &org, err
}

func (s *SQLiteStorage) GetOrganizationByAPIKey(ctx context.Context, apiKey string) (*models.Organization, error) {
	var org models.Organization
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM organizations WHERE api_key = ?`, apiKey,
	).Scan(&org.ID, &org.Name, &org.APIKey, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &org, err
}

func (s *SQLiteStorage) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM organizations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []models.Organization
	for rows.Next() {
		var org models.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.APIKey, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

func (s *SQLiteStorage) DeleteOrganization(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) UpdateOrganizationAPIKey(ctx context.Context, id, newKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET api_key = ?, updated_at = ? WHERE id = ?`,
		newKey, time.Now().UTC(), id,
	)
	return err
}

// --- Subscriptions ---

func (s *SQLiteStorage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	eventTypes, _ := json.Marshal(sub.EventTypes)
	active := 0
	if sub.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, org_id, url, description, secret, event_types, active, last_triggered_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.OrgID, sub.URL, sub.Description, sub.Secret, string(eventTypes), active, sub.LastTriggeredAt, sub.CreatedAt, sub.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanSubscription(row interface{ Scan(...interface{}) error }) (*models.Subscription, error) {
	var sub models.Subscription
	var eventTypes string
	var active int
	err := row.Scan(&sub.ID, &sub.OrgID, &sub.URL, &sub.Description, &sub.Secret, &eventTypes, &active, &sub.LastTriggeredAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(eventTypes), &sub.EventTypes)
	sub.Active = active == 1
	return &sub, nil
}

const subscriptionCols = `id, org_id, url, description, secret, event_types, active, last_triggered_at, created_at, updated_at`

func (s *SQLiteStorage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE id = ?`, id)
	sub, err := s.scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

func (s *SQLiteStorage) ListSubscriptions(ctx context.Context, orgID string) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStorage) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	eventTypes, _ := json.Marshal(sub.EventTypes)
	active := 0
	if sub.Active {
		active = 1
	}
	// Secret is immutable after creation and deliberately absent here.
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET url = ?, description = ?, event_types = ?, active = ?, updated_at = ? WHERE id = ?`,
		sub.URL, sub.Description, string(eventTypes), active, time.Now().UTC(), sub.ID,
	)
	return err
}

func (s *SQLiteStorage) DeleteSubscription(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) ToggleSubscription(ctx context.Context, id string, active bool) error {
	a := 0
	if active {
		a = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = ?, updated_at = ? WHERE id = ?`, a, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStorage) MatchSubscriptions(ctx context.Context, orgID, eventType string) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE org_id = ? AND active = 1`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		if sub.Matches(eventType) {
			subs = append(subs, *sub)
		}
	}
	return subs, rows.Err()
}

func (s *SQLiteStorage) TouchSubscription(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_triggered_at = ? WHERE id = ?`, at, id)
	return err
}

// --- Delivery attempts ---

const attemptCols = `id, subscription_id, event_type, payload, status, attempt_count, response_code, response_body, next_retry_at, created_at, completed_at`

func (s *SQLiteStorage) CreateAttempt(ctx context.Context, a *models.DeliveryAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_attempts (`+attemptCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SubscriptionID, a.EventType, string(a.Payload), a.Status, a.AttemptCount,
		a.ResponseCode, a.ResponseBody, a.NextRetryAt, a.CreatedAt, a.CompletedAt,
	)
	return err
}

func (s *SQLiteStorage) scanAttempt(row interface{ Scan(...interface{}) error }) (*models.DeliveryAttempt, error) {
	var a models.DeliveryAttempt
	var payload string
	var code sql.NullInt64
	err := row.Scan(&a.ID, &a.SubscriptionID, &a.EventType, &payload, &a.Status, &a.AttemptCount,
		&code, &a.ResponseBody, &a.NextRetryAt, &a.CreatedAt, &a.CompletedAt)
	if err != nil {
		return nil, err
	}
	a.Payload = json.RawMessage(payload)
	if code.Valid {
		c := int(code.Int64)
		a.ResponseCode = &c
	}
	return &a, nil
}

func (s *SQLiteStorage) GetAttempt(ctx context.Context, id string) (*models.DeliveryAttempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptCols+` FROM delivery_attempts WHERE id = ?`, id)
	a, err := s.scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStorage) UpdateAttempt(ctx context.Context, a *models.DeliveryAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE delivery_attempts SET status = ?, attempt_count = ?, response_code = ?, response_body = ?, next_retry_at = ?, completed_at = ? WHERE id = ?`,
		a.Status, a.AttemptCount, a.ResponseCode, a.ResponseBody, a.NextRetryAt, a.CompletedAt, a.ID,
	)
	return err
}

func (s *SQLiteStorage) ListAttemptsBySubscription(ctx context.Context, subID string, limit, offset int) ([]models.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptCols+` FROM delivery_attempts WHERE subscription_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		subID, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.collectAttempts(rows)
}

func (s *SQLiteStorage) ListDueAttempts(ctx context.Context, limit int, now time.Time, maxAttempts int) ([]models.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptCols+` FROM delivery_attempts
		 WHERE status IN ('pending', 'failed') AND next_retry_at IS NOT NULL AND next_retry_at <= ? AND attempt_count < ?
		 ORDER BY next_retry_at ASC LIMIT ?`,
		now, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	return s.collectAttempts(rows)
}

// ClaimAttempt clears next_retry_at in a single conditional UPDATE. Clearing
// it removes the row from the due window, so a concurrent sweeper that runs
// the same statement sees zero rows affected and skips the send.
func (s *SQLiteStorage) ClaimAttempt(ctx context.Context, id string, now time.Time, maxAttempts int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE delivery_attempts SET next_retry_at = NULL
		 WHERE id = ? AND status IN ('pending', 'failed') AND next_retry_at IS NOT NULL AND next_retry_at <= ? AND attempt_count < ?`,
		id, now, maxAttempts)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStorage) ListDeadLetters(ctx context.Context, orgID string, limit int) ([]models.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.subscription_id, a.event_type, a.payload, a.status, a.attempt_count, a.response_code, a.response_body, a.next_retry_at, a.created_at, a.completed_at
		 FROM delivery_attempts a JOIN subscriptions s ON a.subscription_id = s.id
		 WHERE s.org_id = ? AND a.status = 'failed' AND a.next_retry_at IS NULL
		 ORDER BY a.completed_at DESC LIMIT ?`,
		orgID, limit)
	if err != nil {
		return nil, err
	}
	return s.collectAttempts(rows)
}

func (s *SQLiteStorage) collectAttempts(rows *sql.Rows) ([]models.DeliveryAttempt, error) {
	defer rows.Close()
	var attempts []models.DeliveryAttempt
	for rows.Next() {
		a, err := s.scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context, orgID string) (*Stats, error) {
	stats := &Stats{}

	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_attempts a JOIN subscriptions s ON a.subscription_id = s.id WHERE s.org_id = ?`,
		orgID).Scan(&stats.TotalAttempts)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_attempts a JOIN subscriptions s ON a.subscription_id = s.id WHERE s.org_id = ? AND a.status = 'success'`,
		orgID).Scan(&stats.SuccessCount)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_attempts a JOIN subscriptions s ON a.subscription_id = s.id WHERE s.org_id = ? AND a.status = 'failed'`,
		orgID).Scan(&stats.FailedCount)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_attempts a JOIN subscriptions s ON a.subscription_id = s.id WHERE s.org_id = ? AND a.status = 'pending'`,
		orgID).Scan(&stats.PendingCount)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_attempts a JOIN subscriptions s ON a.subscription_id = s.id WHERE s.org_id = ? AND a.status = 'failed' AND a.next_retry_at IS NULL`,
		orgID).Scan(&stats.DeadLetterCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions WHERE org_id = ?`, orgID).Scan(&stats.TotalSubscriptions)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions WHERE org_id = ? AND active = 1`, orgID).Scan(&stats.ActiveSubscriptions)

	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalAttempts) * 100
	}

	return stats, nil
}
