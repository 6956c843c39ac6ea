package paper

import (
	"testing"
	"time"
)

func TestLedgerRecordSnapshot(t *testing.T) {
	ledger := NewLedger(2)
	rec := TradeRecord{ID: "TRADE_00001", Symbol: "SIM_A", Side: Buy, Quantity: 100, Price: 10, TotalValue: 1000, Ts: time.Now()}
	ledger.Record(rec)

	snapshot := ledger.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(snapshot))
	}
	if snapshot[0].Symbol != rec.Symbol {
		t.Fatalf("unexpected trade symbol")
	}

	snapshot[0].Symbol = "MUTATED"
	if ledger.Snapshot()[0].Symbol != "SIM_A" {
		t.Fatalf("snapshot must be a copy")
	}
}

func TestLedgerLast(t *testing.T) {
	ledger := NewLedger(0)
	for i := 1; i <= 5; i++ {
		ledger.Record(TradeRecord{ID: string(rune('0' + i))})
	}
	last := ledger.Last(2)
	if len(last) != 2 || last[0].ID != "4" || last[1].ID != "5" {
		t.Fatalf("unexpected tail %+v", last)
	}
	if len(ledger.Last(20)) != 5 {
		t.Fatalf("expected all trades when n exceeds length")
	}
	if len(ledger.Last(0)) != 0 {
		t.Fatalf("expected empty slice for n=0")
	}

	ledger.Replace(nil)
	if ledger.Len() != 0 {
		t.Fatalf("expected ledger replaced")
	}
}
