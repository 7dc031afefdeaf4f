// Package adaptor implements the trainable query embedding transform.
//
// The transform is a low-rank residual map f(x) = normalize(x + U·(Vᵀ·x))
// with U, V of shape d×r. With U = 0 it is the identity, so an untrained
// or freshly initialised adaptor never changes retrieval.
package adaptor

import (
	"math"
	"sync/atomic"
	"time"

	"faqrag/internal/embedding"
)

// Adaptor is an immutable, published version of the transform.
type Adaptor struct {
	Version     int64
	Dim         int
	Rank        int
	U           []float64 // d×r, row-major
	V           []float64 // d×r, row-major
	TrainedAt   time.Time
	SampleCount int
	// FeedbackSeq is the highest feedback sequence number folded into
	// this version.
	FeedbackSeq int64
}

// Trained reports whether a is a published, trained version.
func (a *Adaptor) Trained() bool { return a != nil && a.Version > 0 }

// Compatible reports whether a can transform vectors of dimension dim.
func (a *Adaptor) Compatible(dim int) bool { return a.Trained() && a.Dim == dim }

// Apply returns the transformed, L2-normalised copy of x. Vectors of the
// wrong dimension are returned unchanged.
func (a *Adaptor) Apply(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if !a.Compatible(len(x)) {
		return out
	}
	h := a.project(x)
	for i := 0; i < a.Dim; i++ {
		row := a.U[i*a.Rank : (i+1)*a.Rank]
		for k, hk := range h {
			out[i] += row[k] * hk
		}
	}
	return embedding.Normalize(out)
}

// project computes h = Vᵀx.
func (a *Adaptor) project(x []float64) []float64 {
	h := make([]float64, a.Rank)
	for j, xj := range x {
		if xj == 0 {
			continue
		}
		row := a.V[j*a.Rank : (j+1)*a.Rank]
		for k := range h {
			h[k] += row[k] * xj
		}
	}
	return h
}

func (a *Adaptor) finite() bool {
	for _, w := range a.U {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return false
		}
	}
	for _, w := range a.V {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return false
		}
	}
	return true
}

// Holder is the hot-swap point between the trainer and query time readers.
type Holder struct {
	current atomic.Pointer[Adaptor]
}

// Load returns the published adaptor, nil when none has been published.
func (h *Holder) Load() *Adaptor { return h.current.Load() }

// Publish makes a visible to all subsequent queries.
func (h *Holder) Publish(a *Adaptor) { h.current.Store(a) }

// Version is the published version, 0 when untrained.
func (h *Holder) Version() int64 {
	if a := h.current.Load(); a != nil {
		return a.Version
	}
	return 0
}
