package reframe

import "math"

// neutralMotionScore is used when too few samples exist to judge movement.
const neutralMotionScore = 0.60

// MotionMetrics summarize how much and how erratically the camera path
// moves. Higher MotionScore means smoother.
type MotionMetrics struct {
	AvgSpeed    float64 // px per sample
	Jerk        float64 // mean abs change in speed
	MotionScore float64 // [0,1]
}

// NeutralMotion is the metric set for untracked or under-sampled windows.
func NeutralMotion() MotionMetrics {
	return MotionMetrics{MotionScore: neutralMotionScore}
}

// ComputeMotion derives metrics from a run of camera samples. Fewer than 3
// samples is not enough signal and scores neutral.
func ComputeMotion(samples []Sample) MotionMetrics {
	if len(samples) < 3 {
		return NeutralMotion()
	}

	speeds := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		dx := samples[i].CX - samples[i-1].CX
		dy := samples[i].CY - samples[i-1].CY
		speeds = append(speeds, math.Hypot(dx, dy))
	}

	avgSpeed := mean(speeds)

	jerk := 0.0
	if len(speeds) > 2 {
		diffs := make([]float64, 0, len(speeds)-1)
		for i := 1; i < len(speeds); i++ {
			diffs = append(diffs, math.Abs(speeds[i]-speeds[i-1]))
		}
		jerk = mean(diffs)
	}

	// Tuned to not over-penalize normal head movement
	score := 1.0 / (1.0 + avgSpeed*0.002 + jerk*0.010)
	score = math.Max(0, math.Min(1, score))

	return MotionMetrics{AvgSpeed: avgSpeed, Jerk: jerk, MotionScore: score}
}

// MotionForClip restricts the metrics to samples inside [start, end].
func (p *Path) MotionForClip(start, end float64) MotionMetrics {
	if p == nil || len(p.Samples) == 0 {
		return NeutralMotion()
	}
	sub := p.SamplesInRange(start, end)
	if len(sub) < 3 {
		return NeutralMotion()
	}
	return ComputeMotion(sub)
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
