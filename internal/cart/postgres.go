package cart

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/joao-fontenele/storefront/internal/domain"
)

// PostgresRepository stores one cart per session as a JSONB document in the
// carts table.
type PostgresRepository struct {
	db        *sql.DB
	sessionID string
}

func NewPostgresRepository(db *sql.DB, sessionID string) *PostgresRepository {
	return &PostgresRepository{db: db, sessionID: sessionID}
}

func (r *PostgresRepository) Load(ctx context.Context) (domain.CartState, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT state
		FROM carts
		WHERE session_id = $1
	`, r.sessionID).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.CartState{Items: []domain.CartItem{}}, nil
		}
		return domain.CartState{}, err
	}

	var state domain.CartState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.CartState{}, fmt.Errorf("decode cart %s: %w", r.sessionID, err)
	}
	if state.Items == nil {
		state.Items = []domain.CartItem{}
	}
	return state, nil
}

func (r *PostgresRepository) Save(ctx context.Context, state domain.CartState) error {
	if state.Items == nil {
		state.Items = []domain.CartItem{}
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", r.sessionID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO carts (session_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()
	`, r.sessionID, data)
	return err
}
