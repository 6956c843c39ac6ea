package strategy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"papertrader-go/internal/signal"
)

func TestRunnerGatesTicksAndKeepsStateOnStop(t *testing.T) {
	var got []signal.Event
	ma := NewMovingAverage("SIM_A", 2, 3)
	r := NewRunner(ma, func(ev signal.Event) { got = append(got, ev) }, zerolog.Nop())

	now := time.Unix(1_700_000_000, 0)
	r.OnTick(signal.Tick{Symbol: "SIM_A", Price: 1, Ts: now})
	if len(got) != 0 {
		t.Fatalf("inactive runner must drop ticks")
	}

	r.Start()
	r.Start()
	r.OnTick(signal.Tick{Symbol: "SIM_A", Price: 1, Ts: now})
	r.OnTick(signal.Tick{Symbol: "SIM_A", Price: 2, Ts: now})
	if len(got) != 2 {
		t.Fatalf("expected 2 warm-up events, got %d", len(got))
	}

	r.Stop()
	r.Stop()
	if r.Active() {
		t.Fatalf("expected runner inactive")
	}
	r.OnTick(signal.Tick{Symbol: "SIM_A", Price: 3, Ts: now})
	if len(got) != 2 {
		t.Fatalf("stopped runner must drop ticks")
	}
	if len(ma.history) != 2 {
		t.Fatalf("expected history kept after stop, got %d", len(ma.history))
	}
}

func TestRunnerRecoversSinkPanic(t *testing.T) {
	r := NewRunner(NewMovingAverage("SIM_A", 2, 3), func(signal.Event) { panic("sink") }, zerolog.Nop())
	r.Start()
	r.OnTick(signal.Tick{Symbol: "SIM_A", Price: 1, Ts: time.Now()})
	if !r.Active() {
		t.Fatalf("runner should survive a sink panic")
	}
}
