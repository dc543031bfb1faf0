package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridPilot/internal/domain"
	"gridPilot/internal/ports"
	"gridPilot/internal/positions"
)

// Config holds the risk thresholds. Percentages are of initial capital
// except MaxDrawdownPercent, which is of peak equity.
type Config struct {
	InitialCapital        float64
	GlobalStopPercent     float64 // total loss that halts trading until manual reset
	DailyLossLimitPercent float64 // realized loss that pauses trading for the UTC day
	MaxDrawdownPercent    float64 // peak-to-trough warning threshold
	MaxExposurePercent    float64 // open market value warning threshold
	MaxOrderNotional      float64 // per-order cap; 0 disables the check
}

func (c Config) validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital %.2f must be positive: %w", c.InitialCapital, ports.ErrInvalidConfig)
	}
	if c.GlobalStopPercent <= 0 || c.GlobalStopPercent > 100 {
		return fmt.Errorf("global stop percent %.2f must be in (0, 100]: %w", c.GlobalStopPercent, ports.ErrInvalidConfig)
	}
	if c.DailyLossLimitPercent <= 0 || c.DailyLossLimitPercent > 100 {
		return fmt.Errorf("daily loss limit percent %.2f must be in (0, 100]: %w", c.DailyLossLimitPercent, ports.ErrInvalidConfig)
	}
	if c.MaxDrawdownPercent < 0 || c.MaxDrawdownPercent > 100 {
		return fmt.Errorf("max drawdown percent %.2f must be in [0, 100]: %w", c.MaxDrawdownPercent, ports.ErrInvalidConfig)
	}
	return nil
}

// Manager gates trading on the account's loss limits. A global stop
// latches until ResetEmergencyStop; the daily pause clears itself when
// the UTC day rolls over.
type Manager struct {
	cfg    Config
	logger ports.Logger
	now    func() time.Time

	mu              sync.RWMutex
	emergencyStop   bool
	dailyPaused     bool
	pausedDay       time.Time
	activeBreaches  map[domain.AlertType]bool
	alerts          []*domain.RiskAlert
	onAlert         []func(*domain.RiskAlert)
	onEmergencyStop []func(reason string)
}

// NewManager validates thresholds and creates a manager with trading
// allowed.
func NewManager(cfg Config, logger ports.Logger) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for risk manager")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:            cfg,
		logger:         logger,
		now:            time.Now,
		activeBreaches: make(map[domain.AlertType]bool),
	}, nil
}

// OnAlert registers a callback fired once per newly raised alert.
func (m *Manager) OnAlert(cb func(*domain.RiskAlert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAlert = append(m.onAlert, cb)
}

// OnEmergencyStop registers a callback fired when the global stop trips
// or EmergencyStop is called.
func (m *Manager) OnEmergencyStop(cb func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEmergencyStop = append(m.onEmergencyStop, cb)
}

// CheckRisk evaluates all thresholds against the current metrics and
// returns the resulting risk level. Each threshold raises at most one
// alert per continuous breach; the alert re-arms once the metric
// recovers. Must be called from the engine's single control loop.
func (m *Manager) CheckRisk(metrics positions.Metrics) domain.RiskLevel {
	m.mu.Lock()

	m.clearDailyPauseLocked()

	level := domain.RiskNormal
	var newAlerts []*domain.RiskAlert
	var stopReason string

	globalStopAmount := m.cfg.InitialCapital * m.cfg.GlobalStopPercent / 100
	if -metrics.TotalPnL >= globalStopAmount {
		level = domain.RiskEmergency
		if !m.emergencyStop {
			m.emergencyStop = true
			stopReason = fmt.Sprintf("total loss %.2f reached global stop %.2f", -metrics.TotalPnL, globalStopAmount)
		}
		if a := m.raiseLocked(domain.AlertGlobalStop, domain.RiskEmergency,
			fmt.Sprintf("total loss %.2f breached global stop threshold %.2f", -metrics.TotalPnL, globalStopAmount),
			-metrics.TotalPnL, globalStopAmount); a != nil {
			newAlerts = append(newAlerts, a)
		}
	} else {
		delete(m.activeBreaches, domain.AlertGlobalStop)
	}

	dailyLimit := m.cfg.InitialCapital * m.cfg.DailyLossLimitPercent / 100
	if -metrics.TodayPnL >= dailyLimit {
		if level < domain.RiskCritical {
			level = domain.RiskCritical
		}
		if !m.dailyPaused {
			m.dailyPaused = true
			m.pausedDay = m.now().UTC().Truncate(24 * time.Hour)
		}
		if a := m.raiseLocked(domain.AlertDailyLoss, domain.RiskCritical,
			fmt.Sprintf("daily loss %.2f breached limit %.2f, pausing until next UTC day", -metrics.TodayPnL, dailyLimit),
			-metrics.TodayPnL, dailyLimit); a != nil {
			newAlerts = append(newAlerts, a)
		}
	} else {
		delete(m.activeBreaches, domain.AlertDailyLoss)
	}

	if m.cfg.MaxDrawdownPercent > 0 && metrics.MaxDrawdown*100 >= m.cfg.MaxDrawdownPercent {
		if level < domain.RiskWarning {
			level = domain.RiskWarning
		}
		if a := m.raiseLocked(domain.AlertDrawdown, domain.RiskWarning,
			fmt.Sprintf("drawdown %.2f%% exceeded threshold %.2f%%", metrics.MaxDrawdown*100, m.cfg.MaxDrawdownPercent),
			metrics.MaxDrawdown*100, m.cfg.MaxDrawdownPercent); a != nil {
			newAlerts = append(newAlerts, a)
		}
	} else {
		delete(m.activeBreaches, domain.AlertDrawdown)
	}

	if m.cfg.MaxExposurePercent > 0 {
		maxExposure := m.cfg.InitialCapital * m.cfg.MaxExposurePercent / 100
		if metrics.Exposure >= maxExposure {
			if level < domain.RiskWarning {
				level = domain.RiskWarning
			}
			if a := m.raiseLocked(domain.AlertExposure, domain.RiskWarning,
				fmt.Sprintf("exposure %.2f exceeded limit %.2f", metrics.Exposure, maxExposure),
				metrics.Exposure, maxExposure); a != nil {
				newAlerts = append(newAlerts, a)
			}
		} else {
			delete(m.activeBreaches, domain.AlertExposure)
		}
	}

	alertCbs := make([]func(*domain.RiskAlert), len(m.onAlert))
	copy(alertCbs, m.onAlert)
	stopCbs := make([]func(string), len(m.onEmergencyStop))
	copy(stopCbs, m.onEmergencyStop)
	m.mu.Unlock()

	for _, a := range newAlerts {
		m.logger.Warn(context.Background(), "risk alert raised", map[string]interface{}{
			"type":      string(a.Type),
			"level":     a.Level.String(),
			"value":     a.Value,
			"threshold": a.Threshold,
		})
		for _, cb := range alertCbs {
			cb(a)
		}
	}
	if stopReason != "" {
		m.logger.Error(context.Background(), nil, "emergency stop triggered", map[string]interface{}{
			"reason": stopReason,
		})
		for _, cb := range stopCbs {
			cb(stopReason)
		}
	}
	return level
}

// raiseLocked appends an alert unless the same breach is already
// active. Callers must hold the write lock.
func (m *Manager) raiseLocked(alertType domain.AlertType, level domain.RiskLevel, msg string, value, threshold float64) *domain.RiskAlert {
	if m.activeBreaches[alertType] {
		return nil
	}
	m.activeBreaches[alertType] = true
	alert := &domain.RiskAlert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Level:     level,
		Message:   msg,
		Value:     value,
		Threshold: threshold,
		CreatedAt: m.now().UTC(),
	}
	m.alerts = append(m.alerts, alert)
	return alert
}

// clearDailyPauseLocked lifts the daily pause once the UTC day has
// rolled past the one it was raised in. Callers must hold the write
// lock.
func (m *Manager) clearDailyPauseLocked() {
	if !m.dailyPaused {
		return
	}
	if m.now().UTC().Truncate(24 * time.Hour).After(m.pausedDay) {
		m.dailyPaused = false
		delete(m.activeBreaches, domain.AlertDailyLoss)
	}
}

// ValidateOrder is a pure pre-trade check: no state is mutated and no
// alerts are raised.
func (m *Manager) ValidateOrder(side domain.OrderSide, quantity, price float64) error {
	if quantity <= 0 || price <= 0 {
		return fmt.Errorf("order quantity %.8f and price %.8f must be positive: %w", quantity, price, ports.ErrInvalidOrder)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.emergencyStop {
		return fmt.Errorf("emergency stop active: %w", ports.ErrTradingHalted)
	}
	if m.dailyPausedLocked() {
		return fmt.Errorf("daily loss limit reached: %w", ports.ErrTradingHalted)
	}
	if m.cfg.MaxOrderNotional > 0 {
		if notional := quantity * price; notional > m.cfg.MaxOrderNotional {
			return fmt.Errorf("order notional %.2f exceeds cap %.2f: %w", notional, m.cfg.MaxOrderNotional, ports.ErrInvalidOrder)
		}
	}
	return nil
}

// dailyPausedLocked reports the pause state accounting for day
// rollover without mutating it. Callers must hold at least the read
// lock.
func (m *Manager) dailyPausedLocked() bool {
	if !m.dailyPaused {
		return false
	}
	return !m.now().UTC().Truncate(24 * time.Hour).After(m.pausedDay)
}

// IsTradingAllowed reports whether new orders may be placed.
func (m *Manager) IsTradingAllowed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.emergencyStop && !m.dailyPausedLocked()
}

// EmergencyStop manually latches the global stop and notifies
// subscribers.
func (m *Manager) EmergencyStop(reason string) {
	m.mu.Lock()
	if m.emergencyStop {
		m.mu.Unlock()
		return
	}
	m.emergencyStop = true
	alert := m.raiseLocked(domain.AlertManualStop, domain.RiskEmergency,
		fmt.Sprintf("manual emergency stop: %s", reason), 0, 0)
	alertCbs := make([]func(*domain.RiskAlert), len(m.onAlert))
	copy(alertCbs, m.onAlert)
	stopCbs := make([]func(string), len(m.onEmergencyStop))
	copy(stopCbs, m.onEmergencyStop)
	m.mu.Unlock()

	m.logger.Error(context.Background(), nil, "manual emergency stop", map[string]interface{}{
		"reason": reason,
	})
	if alert != nil {
		for _, cb := range alertCbs {
			cb(alert)
		}
	}
	for _, cb := range stopCbs {
		cb(reason)
	}
}

// ResetEmergencyStop clears the latched global stop. Intended for
// operator use after the account has been reviewed.
func (m *Manager) ResetEmergencyStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyStop = false
	delete(m.activeBreaches, domain.AlertGlobalStop)
	delete(m.activeBreaches, domain.AlertManualStop)
	m.logger.Info(context.Background(), "emergency stop reset", nil)
}

// ResetDailyLimit clears the daily pause without waiting for the UTC
// day to roll over.
func (m *Manager) ResetDailyLimit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPaused = false
	delete(m.activeBreaches, domain.AlertDailyLoss)
}

// AcknowledgeAlert marks an alert as seen. Returns false when the ID is
// unknown.
func (m *Manager) AcknowledgeAlert(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id {
			a.Acknowledged = true
			return true
		}
	}
	return false
}

// Alerts returns a copy of all alerts in raise order.
func (m *Manager) Alerts() []domain.RiskAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.RiskAlert, len(m.alerts))
	for i, a := range m.alerts {
		out[i] = *a
	}
	return out
}
