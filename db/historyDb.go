package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"studybuddy/models"

	"github.com/google/uuid"
)

// HistoryRepository stores the conversation history of one agent instance.
type HistoryRepository interface {
	LoadMessages(ctx context.Context) ([]models.AgentMessage, error)
	SaveMessages(ctx context.Context, messages []models.AgentMessage) error
	AppendMessage(ctx context.Context, message models.AgentMessage) error
}

var _ HistoryRepository = (*Partition)(nil)

// ensureHistoryLocked creates the history table alongside the study schema.
// The study schema alone never includes it.
func (p *Partition) ensureHistoryLocked(ctx context.Context) error {
	if p.historyReady {
		return nil
	}
	if err := p.ensureSchemaLocked(ctx); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		role TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`, p.dialect.table("chat_messages"), p.dialect.timestampType())
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to initialize history table: %w", err)
	}

	p.historyReady = true
	return nil
}

func (p *Partition) LoadMessages(ctx context.Context) ([]models.AgentMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureHistoryLocked(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT payload FROM %s ORDER BY position ASC`, p.dialect.table("chat_messages"))
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []models.AgentMessage{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		var msg models.AgentMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// SaveMessages replaces the stored history with messages. Messages without an
// ID or timestamp are assigned one in place.
func (p *Partition) SaveMessages(ctx context.Context, messages []models.AgentMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureHistoryLocked(ctx); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, p.dialect.table("chat_messages"))); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	seen := make(map[string]bool, len(messages))
	for i := range messages {
		if seen[messages[i].ID] {
			messages[i].ID = ""
		}
		if err := p.insertMessage(ctx, tx, i, &messages[i]); err != nil {
			return err
		}
		seen[messages[i].ID] = true
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}

	return nil
}

// AppendMessage adds one message after the current end of the history.
func (p *Partition) AppendMessage(ctx context.Context, message models.AgentMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureHistoryLocked(ctx); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	query := fmt.Sprintf(`SELECT COALESCE(MAX(position), -1) + 1 FROM %s`, p.dialect.table("chat_messages"))
	if err := tx.QueryRowContext(ctx, query).Scan(&next); err != nil {
		return fmt.Errorf("failed to read history length: %w", err)
	}

	if err := p.insertMessage(ctx, tx, next, &message); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}

	return nil
}

func (p *Partition) insertMessage(ctx context.Context, tx *sql.Tx, position int, msg *models.AgentMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, position, role, payload, created_at) VALUES (?, ?, ?, ?, ?)`, p.dialect.table("chat_messages"))
	if _, err := tx.ExecContext(ctx, p.dialect.rebind(query), msg.ID, position, msg.Role, string(payload), p.dialect.timeArg(msg.CreatedAt)); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}
