package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joao-fontenele/storefront/internal/domain"
)

// Repository persists a single cart. Load is called once when a Store is
// built and Save after every mutation.
type Repository interface {
	Load(ctx context.Context) (domain.CartState, error)
	Save(ctx context.Context, state domain.CartState) error
}

type MemoryRepository struct {
	mu    sync.Mutex
	state domain.CartState
	saves int
}

func NewMemoryRepository(initial domain.CartState) *MemoryRepository {
	return &MemoryRepository{state: initial.Clone()}
}

func (r *MemoryRepository) Load(_ context.Context) (domain.CartState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone(), nil
}

func (r *MemoryRepository) Save(_ context.Context, state domain.CartState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state.Clone()
	r.saves++
	return nil
}

// Saves reports how many times Save was called.
func (r *MemoryRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

// FileRepository keeps the cart as a JSON document on local disk, the
// server-side stand-in for browser local storage.
type FileRepository struct {
	path string
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

func (r *FileRepository) Load(_ context.Context) (domain.CartState, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.CartState{Items: []domain.CartItem{}}, nil
	}
	if err != nil {
		return domain.CartState{}, fmt.Errorf("read cart file: %w", err)
	}

	var state domain.CartState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.CartState{}, fmt.Errorf("decode cart file: %w", err)
	}
	if state.Items == nil {
		state.Items = []domain.CartItem{}
	}
	return state, nil
}

func (r *FileRepository) Save(_ context.Context, state domain.CartState) error {
	if state.Items == nil {
		state.Items = []domain.CartItem{}
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create cart directory: %w", err)
	}

	// atomic replace
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cart file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace cart file: %w", err)
	}
	return nil
}
