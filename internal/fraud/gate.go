package fraud

import (
	"context"
	"time"
)

// TopicManualReview carries references to flagged orders; the review
// workflow itself lives outside the engine.
const TopicManualReview = "fraud.review"

type Action string

const (
	ActionAllow Action = "allow"
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

type Assessment struct {
	Score  int    `json:"score"` // 0..100
	Action Action `json:"action"`
}

// History exposes the per-user signals the gate scores on. The order store
// satisfies this.
type History interface {
	CountRecentOrders(ctx context.Context, userID int64, since time.Time) (int, error)
	CountFailedOrders(ctx context.Context, userID int64, since time.Time) (int, error)
}

// Gate is advisory only: it runs before any stock is claimed and can veto
// order creation, but never touches stock or voucher state.
type Gate struct {
	History History
	Now     func() time.Time

	// Score thresholds; zero values fall back to defaults.
	FlagAt  int
	BlockAt int
}

const (
	defaultFlagAt  = 40
	defaultBlockAt = 70

	recentWindow = time.Hour
	failedWindow = 7 * 24 * time.Hour
)

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

func (g *Gate) Evaluate(ctx context.Context, userID int64, total int64, itemCount int) (Assessment, error) {
	now := g.now()

	recent, err := g.History.CountRecentOrders(ctx, userID, now.Add(-recentWindow))
	if err != nil {
		return Assessment{}, err
	}
	failed, err := g.History.CountFailedOrders(ctx, userID, now.Add(-failedWindow))
	if err != nil {
		return Assessment{}, err
	}

	score := 0

	// order velocity: anything beyond one order per hour looks automated
	if recent > 1 {
		score += min(45, (recent-1)*15)
	}
	// abandoned or failed payments suggest card testing
	score += min(30, failed*10)

	if total >= 1_000_000 {
		score += 15
	}
	if itemCount > 5 {
		score += 10
	}
	if score > 100 {
		score = 100
	}

	flagAt, blockAt := g.FlagAt, g.BlockAt
	if flagAt == 0 {
		flagAt = defaultFlagAt
	}
	if blockAt == 0 {
		blockAt = defaultBlockAt
	}

	a := Assessment{Score: score, Action: ActionAllow}
	switch {
	case score >= blockAt:
		a.Action = ActionBlock
	case score >= flagAt:
		a.Action = ActionFlag
	}
	return a, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
