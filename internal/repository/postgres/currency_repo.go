// internal/repository/postgres/currency_repo.go
package postgres

import (
	"context"
	"fmt"

	"audiotricks-service/internal/domain/payment"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CurrencyRepository struct {
	db querier
}

func NewCurrencyRepository(db *pgxpool.Pool) *CurrencyRepository {
	return &CurrencyRepository{db: db}
}

func (r *CurrencyRepository) WithTx(tx pgx.Tx) *CurrencyRepository {
	return &CurrencyRepository{db: tx}
}

func scanCurrency(row pgx.Row) (*payment.Currency, error) {
	var c payment.Currency
	if err := row.Scan(&c.Code, &c.Name, &c.Symbol, &c.RateToUSD, &c.IsActive, &c.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *CurrencyRepository) Find(ctx context.Context, code string) (*payment.Currency, error) {
	c, err := scanCurrency(r.db.QueryRow(ctx, `
		SELECT code, name, symbol, rate_to_usd::float8, is_active, updated_at FROM currencies WHERE code = UPPER($1)
	`, code))
	if err != nil {
		return nil, fmt.Errorf("failed to find currency %s: %w", code, err)
	}
	return c, nil
}

func (r *CurrencyRepository) ListActive(ctx context.Context) ([]*payment.Currency, error) {
	rows, err := r.db.Query(ctx, `
		SELECT code, name, symbol, rate_to_usd::float8, is_active, updated_at FROM currencies WHERE is_active ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list currencies: %w", err)
	}
	defer rows.Close()

	out := []*payment.Currency{}
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan currency: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CurrencyRepository) Upsert(ctx context.Context, c *payment.Currency) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO currencies (code, name, symbol, rate_to_usd, is_active)
		VALUES (UPPER($1), $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name, symbol = EXCLUDED.symbol, rate_to_usd = EXCLUDED.rate_to_usd,
		    is_active = EXCLUDED.is_active, updated_at = NOW()
	`, c.Code, c.Name, c.Symbol, c.RateToUSD, c.IsActive)
	if err != nil {
		return fmt.Errorf("failed to upsert currency %s: %w", c.Code, err)
	}
	return nil
}

func (r *CurrencyRepository) UpdateRate(ctx context.Context, code string, rate float64, active *bool) (*payment.Currency, error) {
	c, err := scanCurrency(r.db.QueryRow(ctx, `
		UPDATE currencies SET rate_to_usd = $2, is_active = COALESCE($3, is_active), updated_at = NOW()
		WHERE code = UPPER($1)
		RETURNING code, name, symbol, rate_to_usd::float8, is_active, updated_at
	`, code, rate, active))
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update currency rate: %w", err)
	}
	return c, nil
}
