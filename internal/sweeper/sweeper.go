package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/quickcart/order-engine/internal/order"
)

// Lister finds overdue pending orders; the order store satisfies this.
type Lister interface {
	DuePending(ctx context.Context, now time.Time, limit int) ([]order.Order, error)
}

// Expirer drives one order through its expiry transition.
type Expirer interface {
	Expire(ctx context.Context, orderID string) error
}

// Sweeper periodically forces unpaid orders past their deadline into the
// expired state. Multiple instances may sweep concurrently: correctness
// rests entirely on Expire's conditional transition, not on this process
// being singular.
type Sweeper struct {
	Store    Lister
	Engine   Expirer
	Interval time.Duration
	Batch    int
	Now      func() time.Time
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		if n, err := s.SweepOnce(ctx); err != nil {
			slog.Error("expiry sweep failed", "err", err)
		} else if n > 0 {
			slog.Info("expiry sweep", "expired", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce expires one batch of overdue orders and reports how many
// transitions this worker won.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	due, err := s.Store.DuePending(ctx, s.now(), s.Batch)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, o := range due {
		if err := s.Engine.Expire(ctx, o.ID); err != nil {
			// keep sweeping; this order gets another chance next tick
			slog.Warn("expire failed", "order_id", o.ID, "err", err)
			continue
		}
		n++
	}
	return n, nil
}
