package loader

import (
	"bytes"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestReadCSV(t *testing.T) {
	input := strings.Join([]string{
		"account,timestamp,action,asset,amount",
		"acct-1,2025-06-01T12:00:00Z,deposit,USDC,1000.5",
		"acct-1,2025-06-01T13:00:00Z,borrow,ETH,300",
		"acct-2,2025-06-01T14:00:00Z,liquidation,ETH,50",
	}, "\n")

	events, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Account != "acct-1" || events[0].Amount != 1000.5 {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Action != domain.ActionBorrow {
		t.Errorf("expected borrow action, got %s", events[1].Action)
	}
}

func TestReadCSVRejectsBadRows(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"bad amount", "acct-1,2025-06-01T12:00:00Z,deposit,USDC,ten\nacct-1,2025-06-01T12:00:00Z,deposit,USDC,abc"},
		{"negative amount", "acct-1,2025-06-01T12:00:00Z,deposit,USDC,-5"},
		{"bad timestamp", "acct-1,yesterday,deposit,USDC,10"},
		{"missing account", ",2025-06-01T12:00:00Z,deposit,USDC,10"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(tc.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCSVRoundTrip(t *testing.T) {
	events := NewGenerator(7).Population(4)

	var buf bytes.Buffer
	if err := WriteCSV(&buf, events); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	parsed, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(parsed) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(parsed))
	}
	for i := range events {
		if parsed[i].Account != events[i].Account ||
			parsed[i].Action != events[i].Action ||
			parsed[i].Asset != events[i].Asset {
			t.Errorf("event %d mismatch: %+v vs %+v", i, parsed[i], events[i])
		}
	}
}

func TestGeneratorDeterminism(t *testing.T) {
	a := NewGenerator(42).Population(8)
	b := NewGenerator(42).Population(8)

	if len(a) != len(b) {
		t.Fatalf("event counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("event %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestGeneratorArchetypes(t *testing.T) {
	g := NewGenerator(1)

	flash := g.Account("acct-flash", ArchetypeFlashLoan)
	var borrows, repays int
	for _, ev := range flash {
		switch ev.Action {
		case domain.ActionBorrow:
			borrows++
		case domain.ActionRepay:
			repays++
		}
	}
	if borrows == 0 || borrows != repays {
		t.Errorf("flash loan archetype must pair borrows and repays, got %d/%d", borrows, repays)
	}

	liquidated := g.Account("acct-liq", ArchetypeLiquidated)
	var liquidations int
	for _, ev := range liquidated {
		if ev.Action == domain.ActionLiquidation {
			liquidations++
		}
	}
	if liquidations < 3 {
		t.Errorf("liquidated archetype must include liquidations, got %d", liquidations)
	}
}
