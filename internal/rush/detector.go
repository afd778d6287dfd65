package rush

import (
	"sync"
	"time"
)

const (
	DefaultWindow       = 10 * time.Minute
	DefaultThreshold    = 8
	DefaultSustain      = 3 * time.Minute
	DefaultPollInterval = 30 * time.Second
)

// Window is the derived rush state for one venue. It is never persisted.
type Window struct {
	Velocity int  `json:"velocity"`
	IsActive bool `json:"is_active"`
	// CandidateSince is when velocity first reached the threshold in the
	// current uninterrupted run; nil when below threshold.
	CandidateSince *time.Time `json:"candidate_since,omitempty"`
}

// Config tunes a Detector.
type Config struct {
	Window    time.Duration
	Threshold int
	Sustain   time.Duration
}

// DefaultConfig returns the design defaults: 8 orders per 10 minutes held
// for 3 minutes.
func DefaultConfig() Config {
	return Config{Window: DefaultWindow, Threshold: DefaultThreshold, Sustain: DefaultSustain}
}

// Detector turns order arrival timestamps into a rush signal with asymmetric
// hysteresis: it only activates after velocity has stayed at or above the
// threshold for the sustain period, and clears as soon as velocity drops.
type Detector struct {
	cfg Config

	mu             sync.Mutex
	candidateSince *time.Time
	active         bool
}

// NewDetector creates a Detector; zero config fields take their defaults.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Sustain < 0 {
		cfg.Sustain = def.Sustain
	}
	return &Detector{cfg: cfg}
}

// Config returns the detector's effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Velocity counts timestamps inside [now-window, now].
func (d *Detector) Velocity(timestamps []time.Time, now time.Time) int {
	from := now.Add(-d.cfg.Window)
	n := 0
	for _, ts := range timestamps {
		if !ts.Before(from) && !ts.After(now) {
			n++
		}
	}
	return n
}

// Observe recomputes the rush window at now.
func (d *Detector) Observe(timestamps []time.Time, now time.Time) Window {
	velocity := d.Velocity(timestamps, now)

	d.mu.Lock()
	defer d.mu.Unlock()

	if velocity < d.cfg.Threshold {
		d.candidateSince = nil
		d.active = false
		return Window{Velocity: velocity}
	}

	if d.candidateSince == nil {
		start := now
		d.candidateSince = &start
	}
	if !d.active && now.Sub(*d.candidateSince) >= d.cfg.Sustain {
		d.active = true
	}

	since := *d.candidateSince
	return Window{Velocity: velocity, IsActive: d.active, CandidateSince: &since}
}

// Reset forgets any rush candidate.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.candidateSince = nil
	d.active = false
	d.mu.Unlock()
}
