package ui

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Visualizer defaults.
const (
	BarCount    = 5
	BarInterval = 80 * time.Millisecond
)

const (
	phaseStep   = 0.35
	phaseOffset = 0.7
	jitterSpan  = 0.15
	decay       = 0.85
	decayFloor  = 0.01
)

var barGlyphs = []rune("▁▂▃▄▅▆▇█")

// Bars animates visualizer bar heights in [0, 1]. Real analyzer levels
// win whenever they carry signal; otherwise a sine wave with jitter stands
// in while recording, and the bars decay to rest when not.
type Bars struct {
	levels []float64
	phase  float64

	// Rand supplies jitter. Defaults to the global generator.
	Rand func() float64
}

// NewBars returns n bars at rest.
func NewBars(n int) *Bars {
	return &Bars{levels: make([]float64, max(n, 0)), Rand: rand.Float64}
}

// Len is the number of bars.
func (b *Bars) Len() int { return len(b.levels) }

// Resize changes the bar count, keeping existing heights.
func (b *Bars) Resize(n int) {
	n = max(n, 0)
	if n == len(b.levels) {
		return
	}
	next := make([]float64, n)
	copy(next, b.levels)
	b.levels = next
}

// Step advances one frame. real may be nil.
func (b *Bars) Step(recording bool, real []float32) {
	if hasSignal(real) {
		for i := range b.levels {
			if i < len(real) {
				b.levels[i] = clamp01(float64(real[i]))
			} else {
				b.levels[i] = 0
			}
		}
		return
	}

	if recording {
		b.phase += phaseStep
		for i := range b.levels {
			wave := math.Sin(b.phase+float64(i)*phaseOffset)*0.5 + 0.5
			jitter := (b.Rand() - 0.5) * jitterSpan
			b.levels[i] = clamp01(wave + jitter)
		}
		return
	}

	for i, p := range b.levels {
		if p < decayFloor {
			b.levels[i] = 0
		} else {
			b.levels[i] = p * decay
		}
	}
}

// Levels returns a copy of the current heights.
func (b *Bars) Levels() []float64 {
	out := make([]float64, len(b.levels))
	copy(out, b.levels)
	return out
}

// Render draws the bars as one line of block glyphs. Bars at rest still
// show the lowest glyph.
func (b *Bars) Render() string {
	return RenderLevels(b.levels)
}

// RenderLevels draws heights in [0, 1] as block glyphs.
func RenderLevels(levels []float64) string {
	var sb strings.Builder
	top := len(barGlyphs) - 1
	for _, l := range levels {
		idx := int(math.Round(clamp01(l) * float64(top)))
		sb.WriteRune(barGlyphs[idx])
	}
	return sb.String()
}

func hasSignal(real []float32) bool {
	for _, v := range real {
		if v > decayFloor {
			return true
		}
	}
	return false
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
