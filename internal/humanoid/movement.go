// internal/humanoid/movement.go
package humanoid

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
)

// fittsDuration estimates movement time with Fitts's law, randomized by +/-15%.
func (h *Humanoid) fittsDuration(distance, targetWidth float64) time.Duration {
	if targetWidth < 1 {
		targetWidth = 1
	}
	id := math.Log2(1 + distance/targetWidth)
	mt := h.cfg.FittsA + h.cfg.FittsB*id
	mt += mt * (h.float()*0.3 - 0.15)
	return time.Duration(mt * float64(time.Millisecond))
}

// path builds a cubic Bezier from start to end with control points pushed off the
// straight line, then layers tapered perlin noise on top. The final point is exactly end.
func (h *Humanoid) path(start, end Vector2D, steps int) []Vector2D {
	if steps < 1 {
		steps = 1
	}
	dist := start.Dist(end)
	if dist < 1 {
		return []Vector2D{end}
	}

	dir := end.Sub(start).Normalize()
	normal := dir.Perpendicular()

	h.mu.Lock()
	bend1 := (h.rng.Float64()*2 - 1) * dist * 0.25
	bend2 := (h.rng.Float64()*2 - 1) * dist * 0.15
	h.noiseTime += 1.7
	phase := h.noiseTime
	h.mu.Unlock()

	p1 := start.Lerp(end, 0.3).Add(normal.Mul(bend1))
	p2 := start.Lerp(end, 0.7).Add(normal.Mul(bend2))
	amp := h.cfg.NoiseAmplitude

	out := make([]Vector2D, steps)
	for i := 0; i < steps; i++ {
		t := float64(i+1) / float64(steps)
		// Ease in and out so the pointer accelerates, then slows near the target.
		e := easeInOutCubic(t)
		omt := 1 - e
		pt := start.Mul(omt * omt * omt).
			Add(p1.Mul(3 * omt * omt * e)).
			Add(p2.Mul(3 * omt * e * e)).
			Add(end.Mul(e * e * e))

		taper := math.Sin(math.Pi * t)
		h.mu.Lock()
		nx := h.noiseX.Noise1D(phase + t*2)
		ny := h.noiseY.Noise1D(phase + t*2)
		h.mu.Unlock()
		out[i] = pt.Add(Vector2D{X: nx * amp * taper, Y: ny * amp * taper})
	}
	out[steps-1] = end
	return out
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// moveTo glides the cursor to target, emitting one mouseMoved event per path step.
func (h *Humanoid) moveTo(ctx context.Context, target Vector2D, targetWidth float64) error {
	h.mu.Lock()
	start := h.cursor
	h.mu.Unlock()

	duration := h.fittsDuration(start.Dist(target), targetWidth)
	steps := int(duration / (12 * time.Millisecond))
	if steps < h.cfg.MoveStepsMin {
		steps = h.cfg.MoveStepsMin
	}
	if h.cfg.MoveStepsMax > 0 && steps > h.cfg.MoveStepsMax {
		steps = h.cfg.MoveStepsMax
	}
	perStep := duration / time.Duration(steps)

	for i, p := range h.path(start, target, steps) {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := schemas.MouseEventData{Type: schemas.MouseMove, X: p.X, Y: p.Y, Button: schemas.ButtonNone}
		if err := h.executor.DispatchMouseEvent(ctx, ev); err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("Failed to dispatch mouse move event.", zap.Error(err), zap.Int("step", i))
			}
			return err
		}
		h.mu.Lock()
		h.cursor = p
		h.mu.Unlock()
		if err := h.executor.Sleep(ctx, perStep); err != nil {
			return err
		}
	}
	return nil
}
