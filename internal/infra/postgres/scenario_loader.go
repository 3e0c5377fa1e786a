package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"firesim-sync-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ScenarioLoader loads scenario JSONB from Postgres.
type ScenarioLoader struct {
	pool *pgxpool.Pool
}

func NewScenarioLoader(pool *pgxpool.Pool) *ScenarioLoader {
	return &ScenarioLoader{pool: pool}
}

func (l *ScenarioLoader) LoadScenario(ctx context.Context, id string) (domain.Scenario, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM scenarios WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Scenario{}, domain.ErrScenarioNotFound
	}
	if err != nil {
		return domain.Scenario{}, fmt.Errorf("load scenario: %w", err)
	}
	var scenario domain.Scenario
	if err := json.Unmarshal(raw, &scenario); err != nil {
		return domain.Scenario{}, fmt.Errorf("unmarshal scenario: %w", err)
	}
	return scenario, nil
}
