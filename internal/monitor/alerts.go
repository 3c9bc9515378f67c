package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/types"
	logutil "github.com/rovshanmuradov/mev-detector/internal/utils/logger"
)

// AlertType represents the type of alert
type AlertType string

const (
	AlertTypeVictimLoss     AlertType = "victim_loss"
	AlertTypeAttackerProfit AlertType = "attacker_profit"
	AlertTypeArbitrage      AlertType = "arbitrage_spread"
	AlertTypeRepeatAttacker AlertType = "repeat_attacker"
)

// Alert is raised when a detection crosses one of the configured thresholds.
type Alert struct {
	ID        string              `json:"id"`
	Type      AlertType           `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Kind      types.DetectionKind `json:"kind"`
	Signature string              `json:"signature"`
	Actor     string              `json:"actor,omitempty"`
	Token     string              `json:"token,omitempty"`
	Message   string              `json:"message"`
	Severity  string              `json:"severity"` // "info", "warning", "critical"

	Value     decimal.Decimal `json:"value"`
	Threshold decimal.Decimal `json:"threshold"`
}

// AlertConfig holds alert thresholds. A zero threshold disables its alert.
type AlertConfig struct {
	// Victim loss in the sandwiched token, the negated SandwichAttack.Profit
	VictimLoss decimal.Decimal `json:"victim_loss"`

	// Attacker profit in the frontrun input token
	AttackerProfit decimal.Decimal `json:"attacker_profit"`

	// Arbitrage profit percentage
	ArbitragePercent decimal.Decimal `json:"arbitrage_percent"`

	// Sandwiches by one attacker before a repeat alert
	RepeatAttacker int `json:"repeat_attacker"`

	// Alert cooldown per actor to prevent spam
	CooldownDuration time.Duration `json:"cooldown_duration"`
}

// DefaultAlertConfig returns default alert configuration
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		VictimLoss:       decimal.NewFromInt(1000),
		AttackerProfit:   decimal.NewFromInt(1000),
		ArbitragePercent: decimal.NewFromInt(5),
		RepeatAttacker:   10,
		CooldownDuration: time.Minute,
	}
}

// AlertManager checks detections against thresholds and keeps the raised alerts.
type AlertManager struct {
	mu     sync.RWMutex
	config AlertConfig
	logger *zap.Logger
	now    func() time.Time

	alerts       []Alert
	maxAlerts    int
	alertHistory map[string]time.Time // actor -> last alert time
	attackers    map[string]int

	handlers []AlertHandler
}

// AlertHandler is called when an alert is triggered
type AlertHandler func(alert Alert)

// NewAlertManager creates a new alert manager
func NewAlertManager(config AlertConfig, logger *zap.Logger) *AlertManager {
	return &AlertManager{
		config:       config,
		logger:       logger.Named("alerts"),
		now:          time.Now,
		alerts:       make([]Alert, 0, 100),
		maxAlerts:    1000,
		alertHistory: make(map[string]time.Time),
		attackers:    make(map[string]int),
	}
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.handlers = append(am.handlers, handler)
}

// HandleDetection is a detection subscriber; it never fails.
func (am *AlertManager) HandleDetection(d types.Detection) error {
	am.CheckDetection(d)
	return nil
}

// CheckDetection evaluates d and returns the alerts it raised.
func (am *AlertManager) CheckDetection(d types.Detection) []Alert {
	switch {
	case d.Sandwich != nil:
		return am.checkSandwich(*d.Sandwich)
	case d.Arbitrage != nil:
		return am.checkArbitrage(*d.Arbitrage)
	}
	return nil
}

func (am *AlertManager) checkSandwich(s types.SandwichAttack) []Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := am.now()
	base := Alert{
		Timestamp: now,
		Kind:      types.DetectionSandwich,
		Signature: s.VictimTx,
		Actor:     s.Attacker,
		Token:     s.TokenAddress,
	}

	var triggered []Alert

	// repeat counting ignores the cooldown
	if s.Attacker != "" {
		am.attackers[s.Attacker]++
		if n := am.attackers[s.Attacker]; am.config.RepeatAttacker > 0 && n == am.config.RepeatAttacker {
			alert := base
			alert.Type = AlertTypeRepeatAttacker
			alert.Message = fmt.Sprintf("Attacker %s has %d sandwiches", logutil.ShortenAddress(s.Attacker), n)
			alert.Severity = "warning"
			alert.Value = decimal.NewFromInt(int64(n))
			alert.Threshold = decimal.NewFromInt(int64(am.config.RepeatAttacker))
			triggered = append(triggered, am.triggerAlert(alert))
		}
	}

	if am.coolingDown(s.Attacker, now) {
		return triggered
	}

	loss := s.Profit.Neg()
	if am.config.VictimLoss.IsPositive() && loss.GreaterThanOrEqual(am.config.VictimLoss) {
		alert := base
		alert.Type = AlertTypeVictimLoss
		alert.Message = fmt.Sprintf("Victim %s lost %s of %s", logutil.ShortenSignature(s.VictimTx), loss, logutil.ShortenAddress(s.TokenAddress))
		alert.Severity = "critical"
		alert.Value = loss
		alert.Threshold = am.config.VictimLoss
		triggered = append(triggered, am.triggerAlert(alert))
	}

	if am.config.AttackerProfit.IsPositive() && s.AttackerProfit.GreaterThanOrEqual(am.config.AttackerProfit) {
		alert := base
		alert.Type = AlertTypeAttackerProfit
		alert.Token = s.ProfitToken
		alert.Message = fmt.Sprintf("Sandwich on %s earned %s of %s", s.Dex, s.AttackerProfit, logutil.ShortenAddress(s.ProfitToken))
		alert.Severity = "warning"
		alert.Value = s.AttackerProfit
		alert.Threshold = am.config.AttackerProfit
		triggered = append(triggered, am.triggerAlert(alert))
	}

	am.markAlerted(s.Attacker, now, triggered)
	return triggered
}

func (am *AlertManager) checkArbitrage(a types.ArbitrageOpportunity) []Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := am.now()
	if am.coolingDown(a.Signer, now) {
		return nil
	}

	var triggered []Alert
	if am.config.ArbitragePercent.IsPositive() && a.ProfitPercent.GreaterThanOrEqual(am.config.ArbitragePercent) {
		triggered = append(triggered, am.triggerAlert(Alert{
			Type:      AlertTypeArbitrage,
			Timestamp: now,
			Kind:      types.DetectionArbitrage,
			Signature: a.Signature,
			Actor:     a.Signer,
			Token:     a.TokenIn,
			Message:   fmt.Sprintf("Arbitrage %s -> %s returned %s%%", a.BuyDex, a.SellDex, a.ProfitPercent.StringFixed(2)),
			Severity:  "info",
			Value:     a.ProfitPercent,
			Threshold: am.config.ArbitragePercent,
		}))
	}

	am.markAlerted(a.Signer, now, triggered)
	return triggered
}

func (am *AlertManager) coolingDown(actor string, now time.Time) bool {
	if actor == "" {
		return false
	}
	last, exists := am.alertHistory[actor]
	return exists && now.Sub(last) < am.config.CooldownDuration
}

func (am *AlertManager) markAlerted(actor string, now time.Time, triggered []Alert) {
	if actor != "" && len(triggered) > 0 {
		am.alertHistory[actor] = now
	}
}

// triggerAlert records, logs and dispatches alert. Callers hold am.mu.
func (am *AlertManager) triggerAlert(alert Alert) Alert {
	alert.ID = uuid.NewString()

	if len(am.alerts) >= am.maxAlerts {
		am.alerts = am.alerts[1:]
	}
	am.alerts = append(am.alerts, alert)

	fields := []zap.Field{
		zap.String("type", string(alert.Type)),
		zap.String("signature", alert.Signature),
		zap.String("actor", alert.Actor),
		zap.String("message", alert.Message),
	}
	switch alert.Severity {
	case "critical":
		am.logger.Error("Alert triggered", fields...)
	case "warning":
		am.logger.Warn("Alert triggered", fields...)
	default:
		am.logger.Info("Alert triggered", fields...)
	}

	for _, handler := range am.handlers {
		go handler(alert)
	}
	return alert
}

// GetRecentAlerts returns up to limit alerts, oldest first. A non-positive
// limit returns all of them.
func (am *AlertManager) GetRecentAlerts(limit int) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()
	if limit <= 0 {
		limit = len(am.alerts)
	}
	return tail(am.alerts, limit)
}
