// SPDX-License-Identifier: MIT
package analysis

import (
	"time"

	applog "micscope/internal/log"
)

// PulseDetector flags onsets in a level series, such as successive
// AverageFrequency readings normalised to [0,1]. A pulse fires when the level
// is above Threshold and has risen by at least MinRatio over the previous
// reading, and no pulse fired within Cooldown.
type PulseDetector struct {
	threshold float64
	minRatio  float64
	cooldown  time.Duration

	lastLevel float64
	lastPulse time.Time
	count     uint64
}

// NewPulseDetector returns a detector. A minRatio below 1 is raised to 1.
func NewPulseDetector(threshold, minRatio float64, cooldown time.Duration) *PulseDetector {
	if minRatio < 1 {
		minRatio = 1
	}
	applog.Debugf("Analysis: Initializing PulseDetector (Threshold: %.2f, MinRatio: %.2f, Cooldown: %s)", threshold, minRatio, cooldown)
	return &PulseDetector{
		threshold: threshold,
		minRatio:  minRatio,
		cooldown:  cooldown,
	}
}

// Process feeds one level observed at now and reports whether it is a pulse.
func (d *PulseDetector) Process(level float64, now time.Time) bool {
	rising := d.lastLevel == 0 || level/d.lastLevel >= d.minRatio
	cooled := d.lastPulse.IsZero() || now.Sub(d.lastPulse) >= d.cooldown
	d.lastLevel = level

	if level > d.threshold && rising && cooled {
		d.lastPulse = now
		d.count++
		return true
	}
	return false
}

// Count returns the number of pulses detected.
func (d *PulseDetector) Count() uint64 { return d.count }

// Reset clears the level history, e.g. between sessions.
func (d *PulseDetector) Reset() {
	d.lastLevel = 0
	d.lastPulse = time.Time{}
}
