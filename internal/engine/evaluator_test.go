package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"mirror-exit-engine/internal/domain"
)

const (
	t0     = int64(1_700_000_000_000)
	hourMs = int64(3_600_000)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// baseStrategy: 30% stop, TP ladder 2x/33% + 3x/50%, trailing disabled,
// 17% moonbag with its own 50% stop.
func baseStrategy() *domain.StrategyDefinition {
	return &domain.StrategyDefinition{
		ID:          "base",
		StopLossPct: dec("30"),
		TakeProfits: []domain.TakeProfitLevel{
			{Multiplier: dec("2"), SellPct: dec("33")},
			{Multiplier: dec("3"), SellPct: dec("50")},
		},
		Moonbag: domain.MoonbagConfig{RetainPct: dec("17"), StopLossPct: dec("50")},
	}
}

func openPosition() *domain.PositionState {
	return domain.NewPosition("pos-1", "So11111111111111111111111111111111111111112", "base", dec("1.00"), t0, dec("100"))
}

func sample(offsetMs int64, price string) domain.PricePoint {
	return domain.PricePoint{TimestampMs: t0 + offsetMs, Price: dec(price)}
}

func mustEvaluate(t *testing.T, s *domain.StrategyDefinition, st *domain.PositionState, p domain.PricePoint) *domain.Evaluation {
	t.Helper()
	eval, err := Evaluate(s, st, p)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	return eval
}

func TestEvaluate_StopLossFires(t *testing.T) {
	strategy := baseStrategy()
	state := openPosition()

	eval := mustEvaluate(t, strategy, state, sample(hourMs, "0.69"))

	d := eval.Decision
	if d == nil {
		t.Fatal("expected stop-loss decision, got hold")
	}
	if d.Reason.Kind != domain.ReasonStopLoss {
		t.Errorf("expected STOP_LOSS, got %s", d.Reason.Kind)
	}
	if d.Reason.Moonbag {
		t.Error("moonbag flag set on a regular stop-loss")
	}
	if !d.SizeToSell.Equal(dec("100")) {
		t.Errorf("expected full liquidation of 100, got %s", d.SizeToSell)
	}
	if d.SequenceNo != 1 {
		t.Errorf("expected sequence 1, got %d", d.SequenceNo)
	}
}

func TestEvaluate_StopLossBoundaryInclusive(t *testing.T) {
	// 30% stop on entry 1.00 puts the stop exactly at 0.70.
	eval := mustEvaluate(t, baseStrategy(), openPosition(), sample(hourMs, "0.70"))
	if eval.Decision == nil || eval.Decision.Reason.Kind != domain.ReasonStopLoss {
		t.Fatalf("expected stop-loss at boundary price, got %+v", eval.Decision)
	}
}

func TestEvaluate_StopLossBeatsTrailingStop(t *testing.T) {
	strategy := baseStrategy()
	strategy.TakeProfits = nil
	strategy.Moonbag = domain.MoonbagConfig{}
	strategy.Trailing = domain.TrailingConfig{
		Enabled:              true,
		ActivationMultiplier: dec("1.5"),
		TrailDistancePct:     dec("10"),
	}

	state := openPosition()
	state.TrailingActive = true
	state.PeakPrice = dec("2.00")
	state.PeakMultiplier = dec("2")

	// 0.65 is below both the stop (0.70) and the trail (1.80).
	eval := mustEvaluate(t, strategy, state, sample(hourMs, "0.65"))
	if eval.Decision == nil {
		t.Fatal("expected a decision")
	}
	if eval.Decision.Reason.Kind != domain.ReasonStopLoss {
		t.Errorf("stop-loss must win over trailing stop, got %s", eval.Decision.Reason.Kind)
	}
}

func TestEvaluate_TrailingActivation(t *testing.T) {
	strategy := baseStrategy()
	strategy.TakeProfits = nil
	strategy.Moonbag = domain.MoonbagConfig{}
	strategy.Trailing = domain.TrailingConfig{
		Enabled:              true,
		ActivationMultiplier: dec("2"),
		TrailDistancePct:     dec("10"),
	}
	state := openPosition()

	// Below activation: not armed.
	eval := mustEvaluate(t, strategy, state, sample(hourMs, "1.90"))
	if eval.Tracking.TrailingActive {
		t.Error("trailing armed below activation multiplier")
	}

	// At activation: armed, peak maintained, no fire on the arming sample.
	eval = mustEvaluate(t, strategy, state, sample(hourMs, "2.00"))
	if !eval.Tracking.TrailingActive {
		t.Error("trailing not armed at activation multiplier")
	}
	if !eval.Tracking.PeakPrice.Equal(dec("2.00")) {
		t.Errorf("expected peak 2.00, got %s", eval.Tracking.PeakPrice)
	}
	if eval.Decision != nil {
		t.Errorf("unexpected decision on arming sample: %+v", eval.Decision)
	}
}

func TestEvaluate_TrailingStopFires(t *testing.T) {
	strategy := baseStrategy()
	strategy.TakeProfits = nil
	strategy.Moonbag = domain.MoonbagConfig{}
	strategy.Trailing = domain.TrailingConfig{
		Enabled:              true,
		ActivationMultiplier: dec("1.5"),
		TrailDistancePct:     dec("10"),
	}

	state := openPosition()
	state.TrailingActive = true
	state.PeakPrice = dec("2.00")
	state.PeakMultiplier = dec("2")

	eval := mustEvaluate(t, strategy, state, sample(hourMs, "1.80"))
	if eval.Decision == nil || eval.Decision.Reason.Kind != domain.ReasonTrailingStop {
		t.Fatalf("expected trailing stop at 10%% below peak, got %+v", eval.Decision)
	}
	if !eval.Decision.SizeToSell.Equal(state.RemainingSize) {
		t.Errorf("trailing stop must liquidate the full remainder")
	}
}

func TestEvaluate_TrailingSkippedForMoonbag(t *testing.T) {
	strategy := baseStrategy()
	strategy.Trailing = domain.TrailingConfig{
		Enabled:              true,
		ActivationMultiplier: dec("1.5"),
		TrailDistancePct:     dec("10"),
	}

	state := openPosition()
	state.TrailingActive = true
	state.PeakPrice = dec("3.00")
	state.FiredTPLevels = 2
	state.MoonbagActive = true
	state.RemainingSize = dec("17")

	// 1.00 is far below the trail (2.70) but above the moonbag stop (0.50).
	eval := mustEvaluate(t, strategy, state, sample(hourMs, "1.00"))
	if eval.Decision != nil {
		t.Fatalf("moonbag must not be liquidated by the trailing stop, got %+v", eval.Decision)
	}
}

func TestEvaluate_TakeProfitFirstLevel(t *testing.T) {
	eval := mustEvaluate(t, baseStrategy(), openPosition(), sample(hourMs, "2.00"))

	d := eval.Decision
	if d == nil {
		t.Fatal("expected TP1 decision")
	}
	if d.Reason.Kind != domain.ReasonTakeProfit || d.Reason.TPLevel != 1 {
		t.Errorf("expected TAKE_PROFIT level 1, got %+v", d.Reason)
	}
	if !d.SizeToSell.Equal(dec("33")) {
		t.Errorf("expected 33%% of original size (33), got %s", d.SizeToSell)
	}
	if eval.Tracking.FiredTPLevels != 1 {
		t.Errorf("expected 1 fired level, got %d", eval.Tracking.FiredTPLevels)
	}
	if eval.Tracking.ReAnchor == nil {
		t.Error("take-profit must re-anchor the stagnation window")
	}
	if eval.Tracking.MoonbagActive {
		t.Error("moonbag set before the final level fired")
	}
}

func TestEvaluate_TakeProfitOnlyOnePerSample(t *testing.T) {
	// A jump straight to 3.00 still fires only the first unfired level.
	eval := mustEvaluate(t, baseStrategy(), openPosition(), sample(hourMs, "3.00"))
	if eval.Decision == nil || eval.Decision.Reason.TPLevel != 1 {
		t.Fatalf("expected TP level 1 on first qualifying sample, got %+v", eval.Decision)
	}
}

func TestEvaluate_FinalTakeProfitActivatesMoonbag(t *testing.T) {
	state := openPosition()
	state.FiredTPLevels = 1
	state.RemainingSize = dec("67")

	eval := mustEvaluate(t, baseStrategy(), state, sample(2*hourMs, "3.00"))

	d := eval.Decision
	if d == nil || d.Reason.TPLevel != 2 {
		t.Fatalf("expected TP level 2, got %+v", d)
	}
	if !d.SizeToSell.Equal(dec("50")) {
		t.Errorf("TP2 sells 50%% of the ORIGINAL size, got %s", d.SizeToSell)
	}
	if !eval.Tracking.MoonbagActive {
		t.Error("final take-profit level must activate the moonbag")
	}
}

func TestEvaluate_TakeProfitCappedAtRemaining(t *testing.T) {
	state := openPosition()
	state.FiredTPLevels = 1
	state.RemainingSize = dec("30") // less than TP2's 50% of original

	eval := mustEvaluate(t, baseStrategy(), state, sample(2*hourMs, "3.00"))
	if eval.Decision == nil {
		t.Fatal("expected TP2 decision")
	}
	if !eval.Decision.SizeToSell.Equal(dec("30")) {
		t.Errorf("expected sell capped at remaining 30, got %s", eval.Decision.SizeToSell)
	}
}

func TestEvaluate_MaxHoldFires(t *testing.T) {
	strategy := baseStrategy()
	strategy.TakeProfits = nil
	strategy.Moonbag = domain.MoonbagConfig{}
	strategy.Time = domain.TimeRules{MaxHoldHours: 24}

	eval := mustEvaluate(t, strategy, openPosition(), sample(24*hourMs, "1.00"))
	if eval.Decision == nil || eval.Decision.Reason.Kind != domain.ReasonMaxHold {
		t.Fatalf("expected MAX_HOLD after 24h, got %+v", eval.Decision)
	}
}

func TestEvaluate_MaxHoldBeatsStagnation(t *testing.T) {
	strategy := baseStrategy()
	strategy.TakeProfits = nil
	strategy.Moonbag = domain.MoonbagConfig{}
	strategy.Time = domain.TimeRules{
		MaxHoldHours:           24,
		StagnationEnabled:      true,
		StagnationWindowHours:  6,
		StagnationThresholdPct: dec("5"),
	}

	// After 24 flat hours both rules are eligible; max hold is the harder
	// constraint and must win.
	eval := mustEvaluate(t, strategy, openPosition(), sample(24*hourMs, "1.00"))
	if eval.Decision == nil || eval.Decision.Reason.Kind != domain.ReasonMaxHold {
		t.Fatalf("expected MAX_HOLD to outrank stagnation, got %+v", eval.Decision)
	}
}

func TestEvaluate_Stagnation(t *testing.T) {
	strategy := baseStrategy()
	strategy.TakeProfits = nil
	strategy.Moonbag = domain.MoonbagConfig{}
	strategy.Time = domain.TimeRules{
		StagnationEnabled:      true,
		StagnationWindowHours:  6,
		StagnationThresholdPct: dec("5"),
	}

	// Window not yet elapsed: no check, no re-anchor.
	eval := mustEvaluate(t, strategy, openPosition(), sample(5*hourMs, "1.02"))
	if eval.Decision != nil || eval.Tracking.ReAnchor != nil {
		t.Fatalf("stagnation checked before the window elapsed")
	}

	// Window elapsed, movement 2%% < 5%%: fires.
	eval = mustEvaluate(t, strategy, openPosition(), sample(6*hourMs, "1.02"))
	if eval.Decision == nil || eval.Decision.Reason.Kind != domain.ReasonStagnation {
		t.Fatalf("expected STAGNATION, got %+v", eval.Decision)
	}

	// Window elapsed, movement 10%%: re-anchors instead of firing.
	eval = mustEvaluate(t, strategy, openPosition(), sample(6*hourMs, "1.10"))
	if eval.Decision != nil {
		t.Fatalf("expected re-anchor without trigger, got %+v", eval.Decision)
	}
	if eval.Tracking.ReAnchor == nil {
		t.Fatal("expected stagnation window re-anchor")
	}
	if eval.Tracking.ReAnchor.TimestampMs != t0+6*hourMs || !eval.Tracking.ReAnchor.Price.Equal(dec("1.10")) {
		t.Errorf("re-anchor at wrong point: %+v", eval.Tracking.ReAnchor)
	}
}

func TestEvaluate_MoonbagStopSubstitution(t *testing.T) {
	strategy := baseStrategy()
	state := openPosition()
	state.FiredTPLevels = 2
	state.MoonbagActive = true
	state.RemainingSize = dec("17")

	// 0.69 would trip the regular 30% stop, but the moonbag's stop is 50%.
	eval := mustEvaluate(t, strategy, state, sample(hourMs, "0.69"))
	if eval.Decision != nil {
		t.Fatalf("regular stop applied to an active moonbag: %+v", eval.Decision)
	}

	eval = mustEvaluate(t, strategy, state, sample(hourMs, "0.50"))
	d := eval.Decision
	if d == nil || d.Reason.Kind != domain.ReasonStopLoss {
		t.Fatalf("expected moonbag stop-loss at 0.50, got %+v", d)
	}
	if !d.Reason.Moonbag {
		t.Error("expected the moonbag flag on the reason")
	}
	if !d.SizeToSell.Equal(dec("17")) {
		t.Errorf("expected moonbag size 17, got %s", d.SizeToSell)
	}
}

func TestEvaluate_ClosedPositionFails(t *testing.T) {
	state := openPosition()
	state.RemainingSize = decimal.Zero

	_, err := Evaluate(baseStrategy(), state, sample(hourMs, "1.00"))
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestEvaluate_OutOfOrderSampleFails(t *testing.T) {
	state := openPosition()
	state.LastSampleMs = t0 + 2*hourMs

	_, err := Evaluate(baseStrategy(), state, sample(hourMs, "1.00"))
	if !errors.Is(err, ErrOutOfOrderSample) {
		t.Fatalf("expected ErrOutOfOrderSample, got %v", err)
	}
}

func TestEvaluate_PureAndRepeatable(t *testing.T) {
	strategy := baseStrategy()
	state := openPosition()
	before := state.Clone()
	p := sample(hourMs, "2.00")

	first := mustEvaluate(t, strategy, state, p)
	second := mustEvaluate(t, strategy, state, p)

	if !reflect.DeepEqual(first, second) {
		t.Error("evaluating the same inputs twice produced different results")
	}
	if !reflect.DeepEqual(state, before) {
		t.Error("Evaluate mutated the position state")
	}
}
