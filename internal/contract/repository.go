package contract

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ratescan/ratescan/pkg/repository"
)

const contractColumns = `id, name, version, schema, prompt_template, active, created_at`

type repo struct {
	db     *sql.DB
	logger *slog.Logger

	mu       sync.RWMutex
	compiled map[Ref]*Compiled
}

// New creates a contract repository implementing the System interface.
// Compiled schemas are cached per contract version; contract rows are
// immutable once written, so cached entries never go stale.
func New(db *sql.DB, logger *slog.Logger) System {
	return &repo{
		db:       db,
		logger:   logger.With("system", "contract"),
		compiled: make(map[Ref]*Compiled),
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger)
}

func (r *repo) List(ctx context.Context) ([]Contract, error) {
	q := fmt.Sprintf(`SELECT %s FROM field_contracts ORDER BY name, version DESC`, contractColumns)

	items, err := repository.QueryMany(ctx, r.db, q, nil, scanContract)
	if err != nil {
		return nil, fmt.Errorf("query contracts: %w", err)
	}
	return items, nil
}

func (r *repo) Active(ctx context.Context) (*Compiled, error) {
	q := fmt.Sprintf(`SELECT %s FROM field_contracts WHERE active LIMIT 1`, contractColumns)

	c, err := repository.QueryOne(ctx, r.db, q, nil, scanContract)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActive
		}
		return nil, fmt.Errorf("query active contract: %w", err)
	}

	return r.compile(c)
}

func (r *repo) Find(ctx context.Context, ref Ref) (*Compiled, error) {
	r.mu.RLock()
	if cached, ok := r.compiled[ref]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	q := fmt.Sprintf(`SELECT %s FROM field_contracts WHERE name = $1 AND version = $2`, contractColumns)

	c, err := repository.QueryOne(ctx, r.db, q, []any{ref.Name, ref.Version}, scanContract)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query contract %s/%d: %w", ref.Name, ref.Version, err)
	}

	return r.compile(c)
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Contract, error) {
	if cmd.Name == "" {
		return nil, ErrInvalidName
	}
	if _, err := compileSchema(cmd.Schema); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSchema, err)
	}

	q := fmt.Sprintf(`
		INSERT INTO field_contracts(id, name, version, schema, prompt_template, active)
		VALUES ($1, $2, (SELECT COALESCE(MAX(version), 0) + 1 FROM field_contracts WHERE name = $2), $3, $4, false)
		RETURNING %s`, contractColumns)

	args := []any{uuid.New(), cmd.Name, []byte(cmd.Schema), cmd.PromptTemplate}

	c, err := repository.QueryOne(ctx, r.db, q, args, scanContract)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrConflict)
	}

	r.logger.Info("contract registered", "name", c.Name, "version", c.Version)
	return &c, nil
}

func (r *repo) Activate(ctx context.Context, ref Ref) (*Contract, error) {
	c, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Contract, error) {
		if _, err := tx.ExecContext(ctx, `UPDATE field_contracts SET active = false WHERE active`); err != nil {
			return Contract{}, fmt.Errorf("deactivate contracts: %w", err)
		}

		q := fmt.Sprintf(`
			UPDATE field_contracts SET active = true
			WHERE name = $1 AND version = $2
			RETURNING %s`, contractColumns)

		return repository.QueryOne(ctx, tx, q, []any{ref.Name, ref.Version}, scanContract)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("activate contract %s/%d: %w", ref.Name, ref.Version, err)
	}

	r.logger.Info("contract activated", "name", c.Name, "version", c.Version)
	return &c, nil
}

func (r *repo) compile(c Contract) (*Compiled, error) {
	ref := c.Ref()

	r.mu.RLock()
	if cached, ok := r.compiled[ref]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	sch, err := compileSchema(c.Schema)
	if err != nil {
		return nil, fmt.Errorf("compile contract %s/%d: %w", ref.Name, ref.Version, err)
	}

	compiled := NewCompiled(c, sch)

	r.mu.Lock()
	r.compiled[ref] = compiled
	r.mu.Unlock()

	return compiled, nil
}

func compileSchema(schema []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("contract.json", bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	return compiler.Compile("contract.json")
}

func scanContract(s repository.Scanner) (Contract, error) {
	var c Contract
	err := s.Scan(
		&c.ID,
		&c.Name,
		&c.Version,
		&c.Schema,
		&c.PromptTemplate,
		&c.Active,
		&c.CreatedAt,
	)
	return c, err
}
