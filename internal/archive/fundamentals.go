package archive

import (
	"database/sql"
	"fmt"
)

// FundamentalsRow is one archived screener output row. Ratio fields are
// nil when the provider had no usable value for them.
type FundamentalsRow struct {
	ID                   int64
	SessionID            string
	StockCode            string
	ExchangeCode         string
	Name                 string
	TrailingPE           *float64
	ForwardPE            *float64
	ForwardDividendYield *float64
	FreeCashFlowMargin   *float64
	AsOf                 string
	CreatedAt            string
}

// RecordFundamentals stores a batch of screener rows inside a single
// transaction. An empty batch is a no-op.
func (a *Archive) RecordFundamentals(rows []*FundamentalsRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := a.writer.Begin()
	if err != nil {
		return fmt.Errorf("archive: begin fundamentals insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO fundamentals (
			session_id, stock_code, exchange_code, name,
			trailing_pe, forward_pe, forward_dividend_yield, free_cash_flow_margin,
			as_of, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("archive: prepare fundamentals insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.Exec(
			r.SessionID, r.StockCode, r.ExchangeCode, r.Name,
			nullable(r.TrailingPE), nullable(r.ForwardPE),
			nullable(r.ForwardDividendYield), nullable(r.FreeCashFlowMargin),
			r.AsOf, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("archive: insert fundamentals row %s.%s: %w", r.StockCode, r.ExchangeCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit fundamentals insert: %w", err)
	}
	return nil
}

// FundamentalsForSession returns the archived screener rows for one
// session in insertion order.
func (a *Archive) FundamentalsForSession(sessionID string) ([]*FundamentalsRow, error) {
	rows, err := a.reader.Query(`
		SELECT id, session_id, stock_code, exchange_code, name,
		       trailing_pe, forward_pe, forward_dividend_yield, free_cash_flow_margin,
		       as_of, created_at
		FROM fundamentals
		WHERE session_id = ?
		ORDER BY id ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("archive: fundamentals for session: %w", err)
	}
	defer rows.Close()

	var results []*FundamentalsRow
	for rows.Next() {
		r := &FundamentalsRow{}
		var trailingPE, forwardPE, divYield, fcfMargin sql.NullFloat64
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.StockCode, &r.ExchangeCode, &r.Name,
			&trailingPE, &forwardPE, &divYield, &fcfMargin,
			&r.AsOf, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("archive: scan fundamentals row: %w", err)
		}
		r.TrailingPE = fromNull(trailingPE)
		r.ForwardPE = fromNull(forwardPE)
		r.ForwardDividendYield = fromNull(divYield)
		r.FreeCashFlowMargin = fromNull(fcfMargin)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: fundamentals iteration: %w", err)
	}
	return results, nil
}

// nullable converts an optional float into a driver-friendly value.
func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
