// Package risk evaluates stop-loss, take-profit, drawdown, and the
// consecutive-loss circuit breaker on each engine tick (§4.6's embedded
// Risk Monitor), grounded directly in
// original_source/gridbot/risk_manager.py. It holds no venue
// connections: the engine feeds it position/stats snapshots and consults
// AllowOrderPlacement before every new order intent.
package risk

import (
	"fmt"
	"sync"
	"time"

	"gridbot/internal/kernel/types"
)

const (
	maxConsecutiveLosses   = 5
	circuitBreakerCooldown = 300 * time.Second
)

// Monitor tracks risk-trigger state across ticks. All fields are
// protected by mu so the monitor task and the fill-reaction path (which
// records trade results) can run concurrently per §5.
type Monitor struct {
	mu sync.Mutex

	cfg *types.GridConfig

	triggered bool
	reason    string

	circuitBreakerActive bool
	circuitBreakerSince  time.Time
	consecutiveLosses    int
}

// New constructs a Monitor bound to cfg's stop-loss/take-profit/drawdown
// thresholds.
func New(cfg *types.GridConfig) *Monitor {
	return &Monitor{cfg: cfg}
}

// Status is a point-in-time snapshot for the CLI/API status surface,
// mirroring get_risk_status.
type Status struct {
	RiskTriggered         bool
	RiskReason            string
	CircuitBreakerActive  bool
	ConsecutiveLosses     int
}

// Evaluate runs every check against the latest position and stats
// snapshot and returns whether a new trigger fired this tick. Once
// triggered is true, stop-loss/take-profit/drawdown checks stop
// re-evaluating (first trigger wins, per the Python reference).
func (m *Monitor) Evaluate(position types.GridPosition, stats types.GridStats) (triggeredNow bool, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkCircuitBreakerCooldownLocked()

	if m.triggered {
		return false, ""
	}

	if ok, r := m.checkStopLossLocked(position); ok {
		m.setTriggeredLocked(r)
		return true, r
	}
	if ok, r := m.checkTakeProfitLocked(position); ok {
		m.setTriggeredLocked(r)
		return true, r
	}
	if ok, r := m.checkDrawdownLocked(stats); ok {
		m.setTriggeredLocked(r)
		return true, r
	}
	return false, ""
}

func (m *Monitor) setTriggeredLocked(reason string) {
	m.triggered = true
	m.reason = reason
}

func (m *Monitor) checkStopLossLocked(position types.GridPosition) (bool, string) {
	if m.cfg.StopLoss == nil {
		return false, ""
	}
	sl := *m.cfg.StopLoss
	p := position.CurrentPrice

	if position.Size > 0 && p <= sl {
		return true, fmt.Sprintf("stop loss triggered at %v", p)
	}
	if position.Size < 0 && p >= sl {
		return true, fmt.Sprintf("stop loss triggered at %v", p)
	}
	return false, ""
}

func (m *Monitor) checkTakeProfitLocked(position types.GridPosition) (bool, string) {
	if m.cfg.TakeProfitPct == nil {
		return false, ""
	}
	notional := position.EntryPrice * absf(position.Size)
	if notional <= 0 {
		return false, ""
	}
	totalPnL := position.RealizedPnL + position.UnrealizedPnL
	pct := totalPnL / notional * 100
	if pct >= *m.cfg.TakeProfitPct {
		return true, fmt.Sprintf("take profit triggered at %.2f%%", pct)
	}
	return false, ""
}

func (m *Monitor) checkDrawdownLocked(stats types.GridStats) (bool, string) {
	if m.cfg.MaxDrawdownPct == nil {
		return false, ""
	}
	if stats.TotalProfit >= 0 {
		return false, ""
	}
	ddPct := absf(stats.CurrentDrawdown/stats.TotalProfit) * 100
	if ddPct >= *m.cfg.MaxDrawdownPct {
		return true, fmt.Sprintf("maximum drawdown exceeded: %.2f%%", ddPct)
	}
	return false, ""
}

// checkCircuitBreakerCooldownLocked resets the breaker once the cooldown
// has elapsed, clearing consecutive_losses exactly as
// risk_manager.py's _check_circuit_breaker does.
func (m *Monitor) checkCircuitBreakerCooldownLocked() {
	if !m.circuitBreakerActive {
		return
	}
	if time.Since(m.circuitBreakerSince) >= circuitBreakerCooldown {
		m.circuitBreakerActive = false
		m.consecutiveLosses = 0
	}
}

// RecordTradeResult feeds a closed trade's profit into the consecutive-
// loss counter; five losses in a row trips the circuit breaker (§4.6).
func (m *Monitor) RecordTradeResult(profit float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if profit < 0 {
		m.consecutiveLosses++
		if m.consecutiveLosses >= maxConsecutiveLosses {
			m.triggerCircuitBreakerLocked("maximum consecutive losses reached")
		}
	} else {
		m.consecutiveLosses = 0
	}
}

func (m *Monitor) triggerCircuitBreakerLocked(reason string) {
	m.circuitBreakerActive = true
	m.circuitBreakerSince = time.Now()
	m.reason = fmt.Sprintf("circuit breaker: %s", reason)
}

// AllowOrderPlacement reports whether new order intents may proceed:
// false while a risk trigger or an active circuit breaker is in effect.
func (m *Monitor) AllowOrderPlacement() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.triggered {
		return false, fmt.Sprintf("risk triggered: %s", m.reason)
	}
	if m.circuitBreakerActive {
		return false, fmt.Sprintf("circuit breaker active: %s", m.reason)
	}
	return true, ""
}

// GetStatus returns a consistent snapshot of the risk state.
func (m *Monitor) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		RiskTriggered:        m.triggered,
		RiskReason:           m.reason,
		CircuitBreakerActive: m.circuitBreakerActive,
		ConsecutiveLosses:    m.consecutiveLosses,
	}
}

// Reset clears all risk triggers. Used only by an explicit operator
// override; never invoked automatically.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggered = false
	m.reason = ""
	m.circuitBreakerActive = false
	m.consecutiveLosses = 0
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
