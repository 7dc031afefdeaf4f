package adaptor

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"faqrag/internal/domain"
)

// Sample is one (query, chunk, target) triple. Target is 1 for a pair the
// user found helpful and 0 for one they did not.
type Sample struct {
	Query  []float64
	Chunk  []float64
	Target float64
}

// TrainConfig holds the optimiser settings.
type TrainConfig struct {
	Rank         int
	LearningRate float64
	Seed         int64
	// ClipNorm bounds the per-sample gradient norm.
	ClipNorm float64
}

// Report describes a finished fit.
type Report struct {
	Epochs      int
	Samples     int
	InitialLoss float64
	FinalLoss   float64
}

// TargetForRating maps a 1..5 rating onto a training target. Neutral
// ratings carry no preference and are skipped.
func TargetForRating(rating int) (float64, bool) {
	switch {
	case rating >= 4:
		return 1, true
	case rating <= 2:
		return 0, true
	default:
		return 0, false
	}
}

// Fit trains a fresh adaptor of dimension dim with SGD on the squared error
// between cos(f(q), c) and the target. The result has Version 0; the caller
// assigns the version when publishing.
func Fit(ctx context.Context, samples []Sample, dim, epochs int, cfg TrainConfig) (*Adaptor, Report, error) {
	if len(samples) == 0 {
		return nil, Report{}, fmt.Errorf("%w: no training samples", domain.ErrTraining)
	}
	if dim <= 0 {
		return nil, Report{}, fmt.Errorf("%w: invalid dimension %d", domain.ErrTraining, dim)
	}
	for i, s := range samples {
		if len(s.Query) != dim || len(s.Chunk) != dim {
			return nil, Report{}, fmt.Errorf("%w: sample %d has dimension %d/%d, want %d", domain.ErrTraining, i, len(s.Query), len(s.Chunk), dim)
		}
	}
	if epochs <= 0 {
		epochs = 1
	}
	if cfg.Rank <= 0 {
		cfg.Rank = 8
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.05
	}
	if cfg.ClipNorm <= 0 {
		cfg.ClipNorm = 1
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	a := &Adaptor{
		Dim:         dim,
		Rank:        cfg.Rank,
		U:           make([]float64, dim*cfg.Rank),
		V:           make([]float64, dim*cfg.Rank),
		SampleCount: len(samples),
	}
	for i := range a.V {
		a.V[i] = rng.NormFloat64()
	}

	rep := Report{Epochs: epochs, Samples: len(samples), InitialLoss: meanLoss(a, samples)}
	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}
	gU := make([]float64, len(a.U))
	gV := make([]float64, len(a.V))
	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, rep, err
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			a.gradient(samples[idx], gU, gV)
			scale := cfg.LearningRate
			if n := norm2(gU, gV); n > cfg.ClipNorm {
				scale *= cfg.ClipNorm / n
			}
			for i := range a.U {
				a.U[i] -= scale * gU[i]
			}
			for i := range a.V {
				a.V[i] -= scale * gV[i]
			}
		}
		if !a.finite() {
			return nil, rep, fmt.Errorf("%w: weights diverged in epoch %d", domain.ErrTraining, epoch+1)
		}
	}
	rep.FinalLoss = meanLoss(a, samples)
	if math.IsNaN(rep.FinalLoss) || math.IsInf(rep.FinalLoss, 0) {
		return nil, rep, fmt.Errorf("%w: loss is not finite", domain.ErrTraining)
	}
	return a, rep, nil
}

// gradient writes dL/dU and dL/dV for one sample into gU and gV.
func (a *Adaptor) gradient(s Sample, gU, gV []float64) {
	d, r := a.Dim, a.Rank
	h := a.project(s.Query)
	z := make([]float64, d)
	copy(z, s.Query)
	for i := 0; i < d; i++ {
		row := a.U[i*r : (i+1)*r]
		for k, hk := range h {
			z[i] += row[k] * hk
		}
	}
	n := math.Sqrt(dot(z, z))
	cn := math.Sqrt(dot(s.Chunk, s.Chunk))
	for i := range gU {
		gU[i] = 0
	}
	for i := range gV {
		gV[i] = 0
	}
	if n == 0 || cn == 0 {
		return
	}
	sim := dot(z, s.Chunk) / (n * cn)
	coef := 2 * (sim - s.Target)

	// g = dL/dz
	g := make([]float64, d)
	for i := range g {
		g[i] = coef * (s.Chunk[i]/(cn*n) - sim*z[i]/(n*n))
	}
	// dL/dU = g hᵀ, and Uᵀg for the V gradient
	utg := make([]float64, r)
	for i := 0; i < d; i++ {
		if g[i] == 0 {
			continue
		}
		row := a.U[i*r : (i+1)*r]
		for k := 0; k < r; k++ {
			gU[i*r+k] = g[i] * h[k]
			utg[k] += row[k] * g[i]
		}
	}
	// dL/dV = x (Uᵀg)ᵀ
	for j, xj := range s.Query {
		if xj == 0 {
			continue
		}
		for k := 0; k < r; k++ {
			gV[j*r+k] = xj * utg[k]
		}
	}
}

func meanLoss(a *Adaptor, samples []Sample) float64 {
	probe := *a
	probe.Version = 1
	total := 0.0
	for _, s := range samples {
		q := probe.Apply(s.Query)
		cn := math.Sqrt(dot(s.Chunk, s.Chunk))
		sim := 0.0
		if cn > 0 {
			sim = dot(q, s.Chunk) / cn
		}
		diff := sim - s.Target
		total += diff * diff
	}
	return total / float64(len(samples))
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm2(a, b []float64) float64 {
	return math.Sqrt(dot(a, a) + dot(b, b))
}
