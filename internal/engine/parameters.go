package engine

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"capexline/internal/app"
	"capexline/internal/events"
)

type ParameterPatch struct {
	Theme        *string
	ExchangeRate *decimal.Decimal
	VATRate      *decimal.Decimal
}

// UpdateParameters applies p to appCtx and persists it. A new exchange rate
// re-derives the reference amount of every record from its local amount.
func (e *Engine) UpdateParameters(ctx context.Context, appCtx *app.Context, p ParameterPatch, actorID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := *appCtx
	payload := events.EventPayload{}
	if p.Theme != nil {
		theme, err := app.ParseTheme(*p.Theme)
		if err != nil {
			return err
		}
		next.Theme = theme
		payload["theme"] = theme
	}
	if p.ExchangeRate != nil {
		next.ExchangeRate = *p.ExchangeRate
		payload["exchange_rate"] = p.ExchangeRate.String()
	}
	if p.VATRate != nil {
		next.VATRate = *p.VATRate
		payload["vat_rate"] = p.VATRate.String()
	}
	if err := next.Validate(); err != nil {
		return err
	}
	err := e.mutate(ctx, func(tx *sql.Tx) error {
		if p.ExchangeRate != nil {
			if err := e.Registry.SetExchangeRate(next.ExchangeRate); err != nil {
				return err
			}
			for _, rec := range e.Registry.List() {
				if err := e.persisted("project", rec.Code, e.Repo.UpdateReferenceAmount(ctx, tx, rec.Code, rec.ReferenceAmount)); err != nil {
					return err
				}
			}
		}
		if err := next.Save(ctx, e.Repo, tx, e.timestamp()); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ParametersUpdated, e.cycle(), "parameters", "", actorID, payload)
	})
	if err != nil {
		return err
	}
	*appCtx = next
	return nil
}
