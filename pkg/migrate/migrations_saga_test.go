package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSagaStatesMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_saga_states.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no saga states migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TYPE saga_state_enum AS ENUM",
		"CREATE TABLE IF NOT EXISTS saga_states",
		"correlation_id UUID PRIMARY KEY",
		"version INTEGER NOT NULL DEFAULT 0",
		"CHECK (total_amount >= 0)",
		"ux_saga_states_order_id",
		"ix_saga_states_retry_due",
		"DROP TABLE IF EXISTS saga_states",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestOutboxMigrationsContainDispatcherIndexes(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_outbox_events.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no outbox events migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS outbox_events",
		"ix_outbox_events_unpublished",
		"WHERE published_at IS NULL",
		"ux_outbox_events_event_aggregate",
		"DROP TABLE IF EXISTS outbox_events",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestDLQMigrationKeepsAuditColumns(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_outbox_dlq.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no outbox dlq migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TYPE outbox_dlq_error_reason_enum AS ENUM",
		"'max_attempts'",
		"'non_retryable'",
		"ux_outbox_dlq_event_id",
		"DROP TABLE IF EXISTS outbox_dlq",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
