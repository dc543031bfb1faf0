package domain

import "time"

// RiskLevel classifies the severity of the account's current risk state.
type RiskLevel int

const (
	RiskNormal RiskLevel = iota
	RiskWarning
	RiskCritical
	RiskEmergency
)

// String returns the string representation of the RiskLevel.
func (l RiskLevel) String() string {
	switch l {
	case RiskNormal:
		return "NORMAL"
	case RiskWarning:
		return "WARNING"
	case RiskCritical:
		return "CRITICAL"
	case RiskEmergency:
		return "EMERGENCY"
	default:
		return "UNKNOWN"
	}
}

// AlertType identifies which risk threshold an alert belongs to.
type AlertType string

const (
	AlertDailyLoss  AlertType = "DAILY_LOSS"
	AlertGlobalStop AlertType = "GLOBAL_STOP"
	AlertDrawdown   AlertType = "DRAWDOWN"
	AlertExposure   AlertType = "EXPOSURE"
	AlertManualStop AlertType = "MANUAL_STOP"
)

// RiskAlert is an append-only record of a threshold breach.
// Acknowledging an alert mutates only the flag, never trading state.
type RiskAlert struct {
	ID           string    // Unique alert ID
	Type         AlertType // Which threshold was breached
	Level        RiskLevel // Severity at the time of the breach
	Message      string    // Human-readable reason
	Value        float64   // Observed value at breach time
	Threshold    float64   // Configured threshold that was crossed
	Acknowledged bool      // Set by the operator; has no trading effect
	CreatedAt    time.Time // Time the alert was raised (UTC)
}
