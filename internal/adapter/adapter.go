// Package adapter defines the MarketAdapter boundary the core consumes
// and ships one simulated in-process implementation for tests and local
// runs. Grounded on the reference's internal/data/store.go sample-data
// generation fallback and the ExchangeAdapter shape in
// internal/execution/executor.go, narrowed to exactly the operations this
// engine's core needs — no order-book depth, no multi-exchange routing.
package adapter

import (
	"context"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// MarketAdapter is the narrow interface the trading loop consumes. Every
// method may return a *types.CoreError with Kind ErrTransientAdapter or
// ErrPermanentAdapter; the core retries only transient failures.
type MarketAdapter interface {
	AccountInfo(ctx context.Context) (types.AccountSnapshot, error)
	SymbolInfo(ctx context.Context, code string) (types.Symbol, error)
	CopyRates(ctx context.Context, code string, tf types.Timeframe, count int) ([]types.Bar, error)
	Tick(ctx context.Context, code string) (types.TickQuote, error)
	Positions(ctx context.Context) ([]types.Position, error)
	PositionByTicket(ctx context.Context, ticket string) (types.Position, error)
	OrderSend(ctx context.Context, req types.OrderRequest) (types.OrderOutcome, error)
	PositionClose(ctx context.Context, ticket string, volumeFraction decimal.Decimal) error
	PositionModify(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error
}
