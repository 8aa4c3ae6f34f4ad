package llm

import (
	"context"
	"sync"
	"time"
)

// Base holds the fields every vendor client in this package's subpackages
// repeats (name, default model, health tracking) and implements the
// health-tracking half of the Provider interface, so each vendor client
// only has to implement the request/response translation. Vendor clients
// embed *Base and call NewBase from their own New.
type Base struct {
	name         string
	defaultModel string

	mu              sync.Mutex
	ewmaLatencyMs   float64
	consecutiveFail int
	lastStatus      string
	lastCheckedAt   time.Time
}

const (
	ewmaAlpha              = 0.2
	failureThreshold       = 3
	healthProbeMinInterval = 30 * time.Second
)

// NewBase constructs a Base for a vendor client.
func NewBase(name, defaultModel string) *Base {
	return &Base{name: name, defaultModel: defaultModel, lastStatus: "healthy"}
}

func (b *Base) Name() string { return b.name }

// recordSuccess folds a call's latency into the EWMA and resets the
// consecutive-failure counter.
func (b *Base) recordSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ms := float64(latency.Milliseconds())
	if b.ewmaLatencyMs == 0 {
		b.ewmaLatencyMs = ms
	} else {
		b.ewmaLatencyMs = ewmaAlpha*ms + (1-ewmaAlpha)*b.ewmaLatencyMs
	}
	b.consecutiveFail = 0
	b.lastStatus = "healthy"
	b.lastCheckedAt = time.Now()
}

// recordFailure increments the consecutive-failure counter and flips status
// to unavailable once it crosses failureThreshold.
func (b *Base) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFail++
	if b.consecutiveFail >= failureThreshold {
		b.lastStatus = "unavailable"
	} else {
		b.lastStatus = "degraded"
	}
	b.lastCheckedAt = time.Now()
}

// Health reports the provider's current EWMA latency and availability
// status, satisfying the read half of the Provider interface's GetHealth.
func (b *Base) Health(ctx context.Context) HealthStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return HealthStatus{
		Status:        b.lastStatus,
		LatencyMs:     b.ewmaLatencyMs,
		LastCheckedAt: b.lastCheckedAt.Unix(),
	}
}

// shouldReprobe reports whether enough time has passed since the last
// failure-driven status change to retry a provider marked unavailable.
func (b *Base) shouldReprobe() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastStatus != "unavailable" {
		return true
	}
	return time.Since(b.lastCheckedAt) >= healthProbeMinInterval
}
