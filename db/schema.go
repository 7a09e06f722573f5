package db

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

// EnsureSchema creates the study tables on first use. Later calls on the same
// partition are no-ops. A failure leaves the partition uninitialized.
func (p *Partition) EnsureSchema(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureSchemaLocked(ctx)
}

func (p *Partition) ensureSchemaLocked(ctx context.Context) error {
	if p.schemaReady {
		return nil
	}

	for _, stmt := range p.schemaStatements() {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	p.schemaReady = true
	return nil
}

func (p *Partition) schemaStatements() []string {
	d := p.dialect
	ts := d.timestampType()

	var statements []string
	if d.schema != "" {
		statements = append(statements, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pq.QuoteIdentifier(d.schema)))
	}

	// session_id is not a declared foreign key: results may
	// reference sessions whose insert failed.
	statements = append(statements,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`, d.table("study_sessions"), ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			question TEXT NOT NULL,
			user_answer TEXT,
			correct_answer TEXT NOT NULL,
			is_correct INTEGER NOT NULL,
			explanation TEXT,
			created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`, d.table("quiz_results"), ts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_quiz_results_session ON %s(session_id);`, d.table("quiz_results")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_study_sessions_created_at ON %s(created_at DESC);`, d.table("study_sessions")),
	)

	return statements
}
