package processors

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptotax/src/models"
)

// LotLedger keeps, per asset, the queue of open acquisition lots in
// acquisition order. Lots are appended as buys arrive; because input
// transactions are pre-sorted by timestamp, appending alone preserves FIFO
// order and no re-sort is ever performed.
//
// A ledger is scoped to exactly one engine run and is not safe for
// concurrent use.
type LotLedger struct {
	queues map[string][]*models.Lot
}

func NewLotLedger() *LotLedger {
	return &LotLedger{queues: make(map[string][]*models.Lot)}
}

// AddLot appends a new open lot at the back of the asset's queue.
func (l *LotLedger) AddLot(asset string, quantity, unitCost decimal.Decimal, acquiredAt time.Time) {
	l.queues[asset] = append(l.queues[asset], &models.Lot{
		Asset:             asset,
		RemainingQuantity: quantity,
		UnitCost:          unitCost,
		AcquiredAt:        acquiredAt,
	})
}

// TotalAvailable returns the total open quantity for an asset.
func (l *LotLedger) TotalAvailable(asset string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.queues[asset] {
		total = total.Add(lot.RemainingQuantity)
	}
	return total
}

// Consumption is the result of drawing quantity from the front of a queue.
type Consumption struct {
	// CostBasis is the exact sum of unitCost x consumed over every lot
	// touched. No rounding happens here.
	CostBasis decimal.Decimal
	// OldestAcquiredAt is the earliest acquisition among lots touched. A
	// multi-lot disposal reports a single holding period measured from
	// this date, not a weighted average.
	OldestAcquiredAt time.Time
	// Shortfall is the quantity that could not be covered. The caller
	// decides policy; the ledger never fails on an under-covered draw.
	Shortfall decimal.Decimal
}

// Consume removes quantity units from the front of the asset's queue,
// spanning as many lots as necessary. Fully drained lots are dequeued.
func (l *LotLedger) Consume(asset string, quantity decimal.Decimal) Consumption {
	c := Consumption{CostBasis: decimal.Zero, Shortfall: decimal.Zero}
	remaining := quantity

	queue := l.queues[asset]
	for remaining.IsPositive() && len(queue) > 0 {
		lot := queue[0]
		matched := decimal.Min(remaining, lot.RemainingQuantity)

		c.CostBasis = c.CostBasis.Add(lot.UnitCost.Mul(matched))
		if c.OldestAcquiredAt.IsZero() || lot.AcquiredAt.Before(c.OldestAcquiredAt) {
			c.OldestAcquiredAt = lot.AcquiredAt
		}

		remaining = remaining.Sub(matched)
		lot.RemainingQuantity = lot.RemainingQuantity.Sub(matched)
		if lot.RemainingQuantity.IsZero() {
			queue = queue[1:]
		}
	}
	l.queues[asset] = queue

	c.Shortfall = remaining
	return c
}

// OpenLots returns the remaining open lots for an asset, oldest first.
func (l *LotLedger) OpenLots(asset string) []models.Lot {
	lots := make([]models.Lot, 0, len(l.queues[asset]))
	for _, lot := range l.queues[asset] {
		lots = append(lots, *lot)
	}
	return lots
}
