package services

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/models"
)

// StrategyMetrics tracks how each acquisition strategy performs across the
// fetches served by one process (a warm Lambda container, a CLI session)
type StrategyMetrics struct {
	mu              sync.RWMutex
	TotalFetches    int64                             `json:"total_fetches"`
	DegradedFetches int64                             `json:"degraded_fetches"`
	DegradedStreak  int                               `json:"degraded_streak"`
	Strategies      map[models.Source]*StrategyMetric `json:"strategies"`
	Thresholds      AlertThresholds                   `json:"thresholds"`
	LastUpdated     time.Time                         `json:"last_updated"`
}

// StrategyMetric tracks one acquisition strategy
type StrategyMetric struct {
	Strategy      models.Source `json:"strategy"`
	Attempts      int64         `json:"attempts"`
	Successes     int64         `json:"successes"`
	Failures      int64         `json:"failures"`
	Skipped       int64         `json:"skipped"`
	TotalRows     int64         `json:"total_rows"`
	AvgDurationMs float64       `json:"avg_duration_ms"`
	LastSuccess   time.Time     `json:"last_success"`
	LastFailure   time.Time     `json:"last_failure"`
	LastErrorType string        `json:"last_error_type,omitempty"`
	SuccessRate   float64       `json:"success_rate"`
}

// AlertThresholds defines when to raise alerts
type AlertThresholds struct {
	MinSuccessRate    float64 `json:"min_success_rate"`    // per strategy, after MinAttempts
	MinAttempts       int64   `json:"min_attempts"`
	MaxDegradedStreak int     `json:"max_degraded_streak"` // consecutive synthetic fallbacks
	MaxDurationMs     float64 `json:"max_duration_ms"`
}

// StrategyAlert is an alert condition
type StrategyAlert struct {
	Type      string        `json:"type"`     // success_rate|degraded_streak|duration
	Severity  string        `json:"severity"` // warning|error
	Message   string        `json:"message"`
	Strategy  models.Source `json:"strategy,omitempty"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
	Timestamp time.Time     `json:"timestamp"`
}

// DefaultAlertThresholds returns the production thresholds
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		MinSuccessRate:    0.8,
		MinAttempts:       5,
		MaxDegradedStreak: 3,
		MaxDurationMs:     60000,
	}
}

// NewStrategyMetrics creates an empty tracker
func NewStrategyMetrics(thresholds AlertThresholds) *StrategyMetrics {
	return &StrategyMetrics{
		Strategies:  make(map[models.Source]*StrategyMetric),
		Thresholds:  thresholds,
		LastUpdated: time.Now(),
	}
}

// Record adds the strategy outcomes of one fetch
func (m *StrategyMetrics) Record(attempts []models.StrategyAttempt, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalFetches++
	degraded := false

	for _, a := range attempts {
		metric := m.Strategies[a.Strategy]
		if metric == nil {
			metric = &StrategyMetric{Strategy: a.Strategy}
			m.Strategies[a.Strategy] = metric
		}

		if a.Skipped {
			metric.Skipped++
			continue
		}
		metric.Attempts++

		if a.Success {
			metric.Successes++
			metric.TotalRows += int64(a.Rows)
			metric.LastSuccess = now
			if a.Strategy == models.SourceSynthetic {
				degraded = true
			}
		} else {
			metric.Failures++
			metric.LastFailure = now
			metric.LastErrorType = a.ErrorType
		}
		metric.SuccessRate = float64(metric.Successes) / float64(metric.Attempts)

		// Exponential moving average
		if metric.AvgDurationMs == 0 {
			metric.AvgDurationMs = float64(a.Duration)
		} else {
			metric.AvgDurationMs = 0.8*metric.AvgDurationMs + 0.2*float64(a.Duration)
		}
	}

	if degraded {
		m.DegradedFetches++
		m.DegradedStreak++
	} else {
		m.DegradedStreak = 0
	}
	m.LastUpdated = now
}

// CheckAlerts returns the active alert conditions
func (m *StrategyMetrics) CheckAlerts(now time.Time) []StrategyAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var alerts []StrategyAlert

	if m.Thresholds.MaxDegradedStreak > 0 && m.DegradedStreak >= m.Thresholds.MaxDegradedStreak {
		alerts = append(alerts, StrategyAlert{
			Type:      "degraded_streak",
			Severity:  "error",
			Message:   fmt.Sprintf("Last %d fetches fell back to synthetic data", m.DegradedStreak),
			Value:     float64(m.DegradedStreak),
			Threshold: float64(m.Thresholds.MaxDegradedStreak),
			Timestamp: now,
		})
	}

	for _, source := range []models.Source{models.SourceRendered, models.SourceDirect} {
		metric := m.Strategies[source]
		if metric == nil {
			continue
		}

		if metric.Attempts >= m.Thresholds.MinAttempts && metric.SuccessRate < m.Thresholds.MinSuccessRate {
			alerts = append(alerts, StrategyAlert{
				Type:      "success_rate",
				Severity:  "warning",
				Message:   fmt.Sprintf("%s strategy success rate (%.1f%%) is below threshold (%.1f%%)", source, metric.SuccessRate*100, m.Thresholds.MinSuccessRate*100),
				Strategy:  source,
				Value:     metric.SuccessRate,
				Threshold: m.Thresholds.MinSuccessRate,
				Timestamp: now,
			})
		}

		if m.Thresholds.MaxDurationMs > 0 && metric.AvgDurationMs > m.Thresholds.MaxDurationMs {
			alerts = append(alerts, StrategyAlert{
				Type:      "duration",
				Severity:  "warning",
				Message:   fmt.Sprintf("%s strategy average duration (%.0fms) exceeds threshold (%.0fms)", source, metric.AvgDurationMs, m.Thresholds.MaxDurationMs),
				Strategy:  source,
				Value:     metric.AvgDurationMs,
				Threshold: m.Thresholds.MaxDurationMs,
				Timestamp: now,
			})
		}
	}

	return alerts
}

// Strategy returns a copy of one strategy's metric
func (m *StrategyMetrics) Strategy(source models.Source) (StrategyMetric, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metric, ok := m.Strategies[source]
	if !ok {
		return StrategyMetric{}, false
	}
	return *metric, true
}

// LogSummary writes the current counters and any alerts
func (m *StrategyMetrics) LogSummary(logger *zap.Logger, now time.Time) {
	m.mu.RLock()
	fields := []zap.Field{
		zap.Int64("total_fetches", m.TotalFetches),
		zap.Int64("degraded_fetches", m.DegradedFetches),
		zap.Int("degraded_streak", m.DegradedStreak),
	}
	for source, metric := range m.Strategies {
		fields = append(fields, zap.Float64(string(source)+"_success_rate", metric.SuccessRate))
	}
	m.mu.RUnlock()

	logger.Info("Strategy metrics", fields...)
	for _, alert := range m.CheckAlerts(now) {
		logger.Warn("Strategy alert",
			zap.String("type", alert.Type),
			zap.String("severity", alert.Severity),
			zap.String("strategy", string(alert.Strategy)),
			zap.String("message", alert.Message))
	}
}
