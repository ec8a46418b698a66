// Package dbtest provides an in-memory sqlite database carrying the service
// schema, plus fixtures and time helpers for package tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glacestorm/crmalerts/pkg/db"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

var seq atomic.Int64

var schema = []string{
	`CREATE TABLE profiles (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		office TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE user_roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (user_id, role)
	)`,
	`CREATE TABLE goals (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		metric_type TEXT NOT NULL,
		target_value REAL NOT NULL DEFAULT 0,
		period_start DATE NOT NULL,
		period_end DATE NOT NULL,
		assigned_to TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE visits (
		id TEXT PRIMARY KEY,
		gestor_id TEXT NOT NULL,
		company_id TEXT,
		visit_date DATE NOT NULL,
		result TEXT,
		follow_up_required BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE visit_sheets (
		id TEXT PRIMARY KEY,
		gestor_id TEXT NOT NULL,
		sheet_date DATE NOT NULL,
		products_offered INTEGER NOT NULL DEFAULT 0,
		next_action_date DATE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE companies (
		id TEXT PRIMARY KEY,
		gestor_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		client_type TEXT NOT NULL DEFAULT 'prospect',
		annual_revenue REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE company_tpv_terminals (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		monthly_volume REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		installed_at DATE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE alerts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		escalation_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		escalation_hours INTEGER NOT NULL DEFAULT 24,
		max_escalation_level INTEGER NOT NULL DEFAULT 3,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE alert_history (
		id TEXT PRIMARY KEY,
		alert_id TEXT NOT NULL,
		triggered_at DATETIME NOT NULL,
		resolved_at DATETIME,
		escalation_level INTEGER NOT NULL DEFAULT 0,
		escalated_at DATETIME,
		escalation_notified_to TEXT NOT NULL DEFAULT '{}',
		target_type TEXT,
		target_office TEXT,
		target_gestor_id TEXT
	)`,
	`CREATE TABLE notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'medium',
		alert_id TEXT,
		goal_id TEXT,
		metric_value REAL,
		threshold_value REAL,
		metadata TEXT NOT NULL DEFAULT '{}',
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE goal_risk_marks (
		goal_id TEXT NOT NULL,
		check_date DATE NOT NULL,
		risk_level TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (goal_id, check_date)
	)`,
	`CREATE TABLE webhook_channels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE webhooks (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		secret_key TEXT,
		headers TEXT NOT NULL DEFAULT '{}',
		max_retries INTEGER NOT NULL DEFAULT 3,
		retry_delay_ms INTEGER NOT NULL DEFAULT 1000,
		events TEXT NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_triggered_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE webhook_delivery_logs (
		id TEXT PRIMARY KEY,
		webhook_id TEXT NOT NULL,
		notification_id TEXT,
		delivery_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		response_status INTEGER,
		response_body TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT FALSE,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at DATETIME NOT NULL
	)`,
}

// Open returns a fresh database with the full schema applied.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := fmt.Sprintf("memdb_%s_%d_%d", sanitize(t.Name()), time.Now().UnixNano(), seq.Add(1))
	conn, err := db.NewTest(name)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func sanitize(name string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(name)
}

// Date formats t as the calendar date stored in DATE columns.
func Date(t time.Time) string {
	return t.Format("2006-01-02")
}

func SeedProfile(t testing.TB, conn *gorm.DB, id, office string, roles ...string) {
	t.Helper()
	var officeValue any
	if office != "" {
		officeValue = office
	}
	if err := conn.Exec(
		`INSERT INTO profiles (id, full_name, email, office) VALUES (?, ?, ?, ?)`,
		id, "User "+id, id+"@bank.test", officeValue,
	).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	for _, role := range roles {
		if err := conn.Exec(`INSERT INTO user_roles (user_id, role) VALUES (?, ?)`, id, role).Error; err != nil {
			t.Fatalf("seed role: %v", err)
		}
	}
}

type Goal struct {
	ID          string
	Title       string
	MetricType  string
	Target      float64
	PeriodStart time.Time
	PeriodEnd   time.Time
	AssignedTo  string
}

func SeedGoal(t testing.TB, conn *gorm.DB, g Goal) {
	t.Helper()
	if g.Title == "" {
		g.Title = "Goal " + g.ID
	}
	if err := conn.Exec(
		`INSERT INTO goals (id, title, metric_type, target_value, period_start, period_end, assigned_to)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Title, g.MetricType, g.Target, Date(g.PeriodStart), Date(g.PeriodEnd), g.AssignedTo,
	).Error; err != nil {
		t.Fatalf("seed goal: %v", err)
	}
}

// SeedVisits inserts n visits for gestorID on day with the given result.
func SeedVisits(t testing.TB, conn *gorm.DB, gestorID string, day time.Time, result string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("visit_%s_%d", gestorID, seq.Add(1))
		if err := conn.Exec(
			`INSERT INTO visits (id, gestor_id, visit_date, result, follow_up_required) VALUES (?, ?, ?, ?, ?)`,
			id, gestorID, Date(day), result, false,
		).Error; err != nil {
			t.Fatalf("seed visit: %v", err)
		}
	}
}

type Alert struct {
	ID       string
	Name     string
	Enabled  bool
	Hours    int
	MaxLevel int
}

func SeedAlert(t testing.TB, conn *gorm.DB, a Alert) {
	t.Helper()
	if a.Name == "" {
		a.Name = "Alert " + a.ID
	}
	if err := conn.Exec(
		`INSERT INTO alerts (id, name, escalation_enabled, escalation_hours, max_escalation_level) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Enabled, a.Hours, a.MaxLevel,
	).Error; err != nil {
		t.Fatalf("seed alert: %v", err)
	}
}

type Instance struct {
	ID             string
	AlertID        string
	TriggeredAt    time.Time
	ResolvedAt     *time.Time
	Level          int
	EscalatedAt    *time.Time
	NotifiedTo     []string
	TargetType     string
	TargetOffice   string
	TargetGestorID string
}

func SeedInstance(t testing.TB, conn *gorm.DB, in Instance) {
	t.Helper()
	if in.NotifiedTo == nil {
		in.NotifiedTo = []string{}
	}
	if err := conn.Exec(
		`INSERT INTO alert_history (id, alert_id, triggered_at, resolved_at, escalation_level, escalated_at,
			escalation_notified_to, target_type, target_office, target_gestor_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.AlertID, in.TriggeredAt.UTC(), utcPtr(in.ResolvedAt), in.Level, utcPtr(in.EscalatedAt),
		pq.StringArray(in.NotifiedTo), nullable(in.TargetType), nullable(in.TargetOffice), nullable(in.TargetGestorID),
	).Error; err != nil {
		t.Fatalf("seed alert instance: %v", err)
	}
}

// BackdateInstance moves an instance's trigger time into the past.
func BackdateInstance(ctx context.Context, conn *gorm.DB, id string, by time.Duration) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE alert_history SET triggered_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-by),
		id,
	).Error
}

type Webhook struct {
	ID           string
	ChannelID    string
	Name         string
	URL          string
	Secret       string
	Headers      string
	MaxRetries   int
	RetryDelayMS int
	Events       []string
	Inactive     bool
	FailureCount int
}

func SeedChannel(t testing.TB, conn *gorm.DB, id, name string, active bool) {
	t.Helper()
	if err := conn.Exec(
		`INSERT INTO webhook_channels (id, name, is_active) VALUES (?, ?, ?)`, id, name, active,
	).Error; err != nil {
		t.Fatalf("seed channel: %v", err)
	}
}

func SeedWebhook(t testing.TB, conn *gorm.DB, w Webhook) {
	t.Helper()
	if w.Name == "" {
		w.Name = "Webhook " + w.ID
	}
	if w.Headers == "" {
		w.Headers = "{}"
	}
	if w.Events == nil {
		w.Events = []string{"*"}
	}
	if err := conn.Exec(
		`INSERT INTO webhooks (id, channel_id, name, url, secret_key, headers, max_retries, retry_delay_ms, events, is_active, failure_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.ChannelID, w.Name, w.URL, nullable(w.Secret), w.Headers, w.MaxRetries, w.RetryDelayMS,
		pq.StringArray(w.Events), !w.Inactive, w.FailureCount,
	).Error; err != nil {
		t.Fatalf("seed webhook: %v", err)
	}
}

func SeedNotification(t testing.TB, conn *gorm.DB, id, userID, severity string, createdAt time.Time) {
	t.Helper()
	if err := conn.Exec(
		`INSERT INTO notifications (id, user_id, title, message, severity, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, userID, "Title "+id, "Message "+id, severity, `{"source":"test"}`, createdAt.UTC(),
	).Error; err != nil {
		t.Fatalf("seed notification: %v", err)
	}
}

// Count returns the row count of a table filtered by an optional where clause.
func Count(t testing.TB, conn *gorm.DB, table, where string, args ...any) int64 {
	t.Helper()
	var n int64
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	if err := conn.Raw(query, args...).Scan(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
