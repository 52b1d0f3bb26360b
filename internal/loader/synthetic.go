package loader

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Archetypes for synthetic accounts. Each produces a recognizable behavioral
// signature so demos and benchmarks exercise the whole scoring range.
const (
	ArchetypeHealthy    = "healthy"
	ArchetypeFlashLoan  = "flashloan"
	ArchetypeLeveraged  = "leveraged"
	ArchetypeLiquidated = "liquidated"
)

var syntheticAssets = []string{"USDC", "DAI", "WETH", "WBTC", "LINK"}

// Generator produces deterministic synthetic event streams. The same seed
// always yields the same events.
type Generator struct {
	rng   *rand.Rand
	start time.Time
}

// NewGenerator creates a generator with a fixed seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng:   rand.New(rand.NewSource(seed)),
		start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Population generates events for n accounts cycling through the archetypes.
func (g *Generator) Population(n int) []domain.Event {
	archetypes := []string{ArchetypeHealthy, ArchetypeFlashLoan, ArchetypeLeveraged, ArchetypeLiquidated}

	var events []domain.Event
	for i := 0; i < n; i++ {
		account := fmt.Sprintf("0x%040x", i+1)
		events = append(events, g.Account(account, archetypes[i%len(archetypes)])...)
	}
	return events
}

// Account generates the event stream for one account of the given archetype.
func (g *Generator) Account(account, archetype string) []domain.Event {
	switch archetype {
	case ArchetypeFlashLoan:
		return g.flashLoanAccount(account)
	case ArchetypeLeveraged:
		return g.leveragedAccount(account)
	case ArchetypeLiquidated:
		return g.liquidatedAccount(account)
	default:
		return g.healthyAccount(account)
	}
}

// healthyAccount deposits across several assets, borrows conservatively and
// repays in full over months of steady activity.
func (g *Generator) healthyAccount(account string) []domain.Event {
	var events []domain.Event
	ts := g.start.Add(g.jitter(72 * time.Hour))

	asset := g.pick()
	deposit := 1000 + g.rng.Float64()*9000

	events = append(events, domain.Event{Account: account, Timestamp: ts, Action: domain.ActionDeposit, Asset: asset, Amount: deposit})

	for i := 0; i < 4+g.rng.Intn(6); i++ {
		ts = ts.Add(5*24*time.Hour + g.jitter(48*time.Hour))
		events = append(events, domain.Event{Account: account, Timestamp: ts, Action: domain.ActionDeposit, Asset: g.pick(), Amount: 100 + g.rng.Float64()*900})
	}

	borrow := deposit * 0.3
	ts = ts.Add(24 * time.Hour)
	events = append(events,
		domain.Event{Account: account, Timestamp: ts, Action: domain.ActionBorrow, Asset: asset, Amount: borrow},
		domain.Event{Account: account, Timestamp: ts.Add(20 * 24 * time.Hour), Action: domain.ActionRepay, Asset: asset, Amount: borrow},
	)

	return events
}

// flashLoanAccount runs tight borrow/repay round-trips in the same asset.
func (g *Generator) flashLoanAccount(account string) []domain.Event {
	var events []domain.Event
	ts := g.start.Add(g.jitter(72 * time.Hour))
	asset := g.pick()

	for i := 0; i < 5+g.rng.Intn(5); i++ {
		amount := 10000 + g.rng.Float64()*90000
		events = append(events,
			domain.Event{Account: account, Timestamp: ts, Action: domain.ActionBorrow, Asset: asset, Amount: amount},
			domain.Event{Account: account, Timestamp: ts.Add(time.Duration(1+g.rng.Intn(40)) * time.Minute), Action: domain.ActionRepay, Asset: asset, Amount: amount * (0.95 + g.rng.Float64()*0.05)},
		)
		ts = ts.Add(time.Duration(2+g.rng.Intn(20)) * time.Hour)
	}

	return events
}

// leveragedAccount borrows close to its full deposit and repays little.
func (g *Generator) leveragedAccount(account string) []domain.Event {
	var events []domain.Event
	ts := g.start.Add(g.jitter(72 * time.Hour))
	asset := g.pick()
	deposit := 5000 + g.rng.Float64()*5000

	events = append(events, domain.Event{Account: account, Timestamp: ts, Action: domain.ActionDeposit, Asset: asset, Amount: deposit})

	for i := 0; i < 4+g.rng.Intn(4); i++ {
		ts = ts.Add(time.Duration(6+g.rng.Intn(48)) * time.Hour)
		events = append(events, domain.Event{Account: account, Timestamp: ts, Action: domain.ActionBorrow, Asset: g.pick(), Amount: deposit * (0.2 + g.rng.Float64()*0.1)})
	}

	return events
}

// liquidatedAccount gets margin-called repeatedly.
func (g *Generator) liquidatedAccount(account string) []domain.Event {
	var events []domain.Event
	ts := g.start.Add(g.jitter(72 * time.Hour))
	asset := g.pick()
	deposit := 2000 + g.rng.Float64()*3000

	events = append(events,
		domain.Event{Account: account, Timestamp: ts, Action: domain.ActionDeposit, Asset: asset, Amount: deposit},
		domain.Event{Account: account, Timestamp: ts.Add(12 * time.Hour), Action: domain.ActionBorrow, Asset: asset, Amount: deposit * 0.8},
	)

	ts = ts.Add(24 * time.Hour)
	for i := 0; i < 3+g.rng.Intn(3); i++ {
		ts = ts.Add(time.Duration(12+g.rng.Intn(72)) * time.Hour)
		events = append(events, domain.Event{Account: account, Timestamp: ts, Action: domain.ActionLiquidation, Asset: asset, Amount: deposit * 0.2})
	}

	return events
}

func (g *Generator) pick() string {
	return syntheticAssets[g.rng.Intn(len(syntheticAssets))]
}

func (g *Generator) jitter(max time.Duration) time.Duration {
	return time.Duration(g.rng.Int63n(int64(max)))
}
