package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/glassbox/internal/domain"
)

type AgentProfileRepo struct {
	pool *pgxpool.Pool
}

func NewAgentProfileRepo(pool *pgxpool.Pool) *AgentProfileRepo {
	return &AgentProfileRepo{pool: pool}
}

const agentProfileColumns = `id, name, slug, description, system_prompt, model_config,
	is_active, created_at, updated_at`

func (r *AgentProfileRepo) Create(ctx context.Context, p *domain.AgentProfile) error {
	modelConfig, err := json.Marshal(p.ModelConfig)
	if err != nil {
		return fmt.Errorf("agentProfileRepo.Create: marshal model config: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO agent_profiles (`+agentProfileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (slug) DO NOTHING`,
		p.ID, p.Name, p.Slug, p.Description, p.SystemPrompt, modelConfig,
		p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("agentProfileRepo.Create: %w", err)
	}

	return nil
}

func (r *AgentProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.AgentProfile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+agentProfileColumns+` FROM agent_profiles WHERE id = $1`, id,
	)

	p, err := scanAgentProfile(row)
	if err != nil {
		return nil, fmt.Errorf("agentProfileRepo.GetByID: %w", err)
	}

	return p, nil
}

func (r *AgentProfileRepo) GetBySlug(ctx context.Context, slug string) (*domain.AgentProfile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+agentProfileColumns+` FROM agent_profiles WHERE slug = $1 AND is_active = true`,
		slug,
	)

	p, err := scanAgentProfile(row)
	if err != nil {
		return nil, fmt.Errorf("agentProfileRepo.GetBySlug: %w", err)
	}

	return p, nil
}

func scanAgentProfile(row pgx.Row) (*domain.AgentProfile, error) {
	var p domain.AgentProfile
	var modelConfig []byte

	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Description, &p.SystemPrompt, &modelConfig,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(modelConfig) > 0 {
		if err = json.Unmarshal(modelConfig, &p.ModelConfig); err != nil {
			return nil, fmt.Errorf("unmarshal model config: %w", err)
		}
	}

	return &p, nil
}
