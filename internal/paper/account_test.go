package paper

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"polyarb-go/internal/signal"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestReserveAndSettleWin(t *testing.T) {
	bank := NewBankroll(dec("1000"))
	if err := bank.Reserve(dec("25")); err != nil {
		t.Fatalf("unexpected reserve error: %v", err)
	}
	if got := bank.Snapshot().Available; !got.Equal(dec("975")) {
		t.Fatalf("expected 975 available, got %s", got)
	}

	realized := bank.Settle(dec("25"), dec("50"))
	if !realized.Equal(dec("25")) {
		t.Fatalf("expected +25 realized, got %s", realized)
	}
	snap := bank.Snapshot()
	if !snap.Available.Equal(dec("1025")) || !snap.CumulativePnL.Equal(dec("25")) || snap.Wins != 1 || snap.Losses != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSettleLoss(t *testing.T) {
	bank := NewBankroll(dec("100"))
	_ = bank.Reserve(dec("40"))
	realized := bank.Settle(dec("40"), decimal.Zero)
	if !realized.Equal(dec("-40")) {
		t.Fatalf("expected -40, got %s", realized)
	}
	snap := bank.Snapshot()
	if !snap.Available.Equal(dec("60")) || snap.Losses != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestReserveInsufficientCash(t *testing.T) {
	bank := NewBankroll(dec("10"))
	if err := bank.Reserve(dec("10.01")); !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("expected cash error, got %v", err)
	}
	if err := bank.Reserve(decimal.Zero); err == nil {
		t.Fatalf("expected error for zero stake")
	}
}

func TestRestoreAndPause(t *testing.T) {
	bank := NewBankroll(dec("500"))
	bank.Restore(signal.BankrollState{Available: dec("420"), CumulativePnL: dec("-80"), Wins: 2, Losses: 5, Paused: true})
	if !bank.Paused() {
		t.Fatalf("expected paused after restore")
	}
	bank.SetPaused(false)
	snap := bank.Snapshot()
	if snap.Paused || !snap.Available.Equal(dec("420")) || snap.Losses != 5 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !bank.StartingCash().Equal(dec("500")) {
		t.Fatalf("starting cash should be unchanged")
	}
}
