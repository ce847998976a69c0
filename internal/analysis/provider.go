// SPDX-License-Identifier: MIT
package analysis

import "micscope/internal/capture"

// Source supplies samples to an analyser. A live audio.Session satisfies it.
type Source interface {
	SampleRate() float64
	// Tap registers fn for every delivered block and returns a function
	// removing it.
	Tap(fn func(capture.Block)) (untap func())
}
