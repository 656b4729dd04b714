// Package directory is the Postgres-backed resource store: businesses and
// agents on the read side, usage records and chat transcripts on the write
// side.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

type Repository struct {
	db  *bun.DB
	now func() time.Time
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// CreateSchema creates the tables this repository uses when they are missing.
func (r *Repository) CreateSchema(ctx context.Context) error {
	models := []any{
		(*businessRow)(nil),
		(*agentRow)(nil),
		(*usageRow)(nil),
		(*chatMessageRow)(nil),
	}
	for _, m := range models {
		if _, err := r.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	return nil
}

func (r *Repository) GetBusiness(ctx context.Context, businessID string) (contractx.Business, error) {
	var row businessRow
	err := r.db.NewSelect().
		Model(&row).
		ExcludeColumn("parsed_knowledge_base", "created_at").
		Where("?TableAlias.id = ?", strings.TrimSpace(businessID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return contractx.Business{}, notFound(err, "business", businessID)
	}
	return row.toContract(), nil
}

func (r *Repository) GetAgent(ctx context.Context, agentID string) (contractx.Agent, error) {
	var row agentRow
	err := r.db.NewSelect().
		Model(&row).
		ExcludeColumn("created_at").
		Where("?TableAlias.id = ?", strings.TrimSpace(agentID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return contractx.Agent{}, notFound(err, "agent", agentID)
	}
	return row.toContract(), nil
}

func (r *Repository) GetKnowledgeBase(ctx context.Context, businessID string) (string, error) {
	var text sql.NullString
	err := r.db.NewSelect().
		Model((*businessRow)(nil)).
		Column("parsed_knowledge_base").
		Where("?TableAlias.id = ?", strings.TrimSpace(businessID)).
		Limit(1).
		Scan(ctx, &text)
	if err != nil {
		return "", notFound(err, "business", businessID)
	}
	return text.String, nil
}

// FindAgentByPhoneNumber resolves the active agent that answers number.
func (r *Repository) FindAgentByPhoneNumber(ctx context.Context, phoneNumber string) (contractx.Agent, error) {
	number := strings.TrimSpace(phoneNumber)
	if number == "" {
		return contractx.Agent{}, fmt.Errorf("%w: phone number is required", contractx.ErrValidation)
	}

	var row agentRow
	err := r.db.NewSelect().
		Model(&row).
		ExcludeColumn("created_at").
		Where("? = ANY(?TableAlias.agent_phone_numbers)", number).
		Where("?TableAlias.is_active = TRUE").
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return contractx.Agent{}, notFound(err, "agent for number", number)
	}
	return row.toContract(), nil
}

func (r *Repository) RecordUsage(ctx context.Context, rec contractx.UsageRecord) error {
	if rec.RunID == "" || rec.ThreadID == "" || rec.BusinessID == "" {
		return fmt.Errorf("%w: usage record needs run, thread and business ids", contractx.ErrValidation)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	total := rec.TotalTokens
	if total == 0 {
		total = rec.PromptTokens + rec.CompletionTokens
	}

	row := usageRow{
		ID:               uuid.NewString(),
		BusinessID:       rec.BusinessID,
		AgentID:          rec.AgentID,
		ThreadID:         rec.ThreadID,
		RunID:            rec.RunID,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      total,
		TotalPrice:       rec.TotalPrice,
		Currency:         rec.Currency,
		CreatedAt:        createdAt.UTC(),
	}
	if _, err := r.db.NewInsert().
		Model(&row).
		On("CONFLICT (run_id) DO NOTHING").
		Returning("NULL").
		Exec(ctx); err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (r *Repository) AppendChatMessage(ctx context.Context, msg contractx.ChatMessage) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	row := chatMessageRow{
		ID:        uuid.NewString(),
		SessionID: msg.SessionID,
		AgentID:   msg.AgentID,
		Sender:    msg.Sender,
		Message:   msg.Message,
		CreatedAt: ts.UTC(),
	}
	if _, err := r.db.NewInsert().Model(&row).Returning("NULL").Exec(ctx); err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func notFound(err error, what string, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", contractx.ErrNotFound, what, id)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}
