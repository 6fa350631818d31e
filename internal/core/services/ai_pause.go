package services

import (
	"log/slog"
	"sync"
	"time"
)

// AIPause is the emergency switch that stops AI replies. While active, turns
// that would reach generation are handed off to a human instead.
type AIPause struct {
	mu          sync.RWMutex
	active      bool
	activatedBy string
	activatedAt time.Time
	reason      string
}

// AIPauseStatus is a snapshot of the switch
type AIPauseStatus struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedBy string    `json:"activatedBy,omitempty"`
	ActivatedAt time.Time `json:"activatedAt,omitempty"`
}

// NewAIPause creates an inactive switch
func NewAIPause() *AIPause {
	return &AIPause{}
}

// IsActive returns whether AI replies are paused
func (p *AIPause) IsActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// Enable pauses AI replies
func (p *AIPause) Enable(reason, activatedBy string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active = true
	p.reason = reason
	p.activatedBy = activatedBy
	p.activatedAt = time.Now()

	slog.Warn("AI replies paused",
		"reason", reason,
		"activated_by", activatedBy,
	)
}

// Disable resumes AI replies
func (p *AIPause) Disable(deactivatedBy string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	duration := time.Since(p.activatedAt)
	p.active = false
	p.reason = ""

	slog.Info("AI replies resumed",
		"deactivated_by", deactivatedBy,
		"duration", duration,
	)
}

// Status returns the current state of the switch
func (p *AIPause) Status() AIPauseStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return AIPauseStatus{
		Active:      p.active,
		Reason:      p.reason,
		ActivatedBy: p.activatedBy,
		ActivatedAt: p.activatedAt,
	}
}
