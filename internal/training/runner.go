package training

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"faqrag/internal/adaptor"
	"faqrag/internal/domain"
	"faqrag/internal/embedding"
	"faqrag/internal/index"
	"faqrag/internal/metrics"
)

// FeedbackSource is the read side of the feedback store.
type FeedbackSource interface {
	MaxSeq(ctx context.Context) (int64, error)
	Snapshot(ctx context.Context, upTo int64) ([]domain.FeedbackRecord, error)
}

// Generations yields the index the samples are built against.
type Generations interface {
	Current() (*index.Generation, error)
}

// AdaptorStore persists published versions and the training watermark.
type AdaptorStore interface {
	Save(ctx context.Context, a *adaptor.Adaptor) error
	SaveWatermark(ctx context.Context, seq int64) error
	Watermark(ctx context.Context) (int64, error)
}

// Outcome describes one finished run.
type Outcome struct {
	Version   int64
	Published bool
	Samples   int
	Records   int
	Report    adaptor.Report
}

// Runner turns a feedback snapshot into a new adaptor version.
type Runner struct {
	feedback FeedbackSource
	indexes  Generations
	holder   *adaptor.Holder
	repo     AdaptorStore
	cfg      adaptor.TrainConfig
	logger   *zap.Logger

	consumed atomic.Int64
}

func NewRunner(feedback FeedbackSource, indexes Generations, holder *adaptor.Holder, repo AdaptorStore, cfg adaptor.TrainConfig, logger *zap.Logger) *Runner {
	return &Runner{feedback: feedback, indexes: indexes, holder: holder, repo: repo, cfg: cfg, logger: logger}
}

// Restore loads the persisted watermark so records consumed before a
// restart are not counted again.
func (r *Runner) Restore(ctx context.Context) error {
	seq, err := r.repo.Watermark(ctx)
	if err != nil {
		return err
	}
	r.advance(seq)
	return nil
}

// Watermark is the highest feedback sequence number already considered by
// a completed run, whether or not it produced a new version.
func (r *Runner) Watermark() int64 {
	w := r.consumed.Load()
	if a := r.holder.Load(); a != nil && a.FeedbackSeq > w {
		return a.FeedbackSeq
	}
	return w
}

// Train fits a new adaptor on every feedback record stored when the run
// starts. Records appended meanwhile are left for the next run. Nothing is
// published if the run fails or ctx is cancelled.
func (r *Runner) Train(ctx context.Context, epochs int) (Outcome, error) {
	started := time.Now()
	out, err := r.train(ctx, epochs)
	metrics.TrainingDuration.Observe(time.Since(started).Seconds())
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.TrainingRuns.WithLabelValues("cancelled").Inc()
	case err != nil:
		metrics.TrainingRuns.WithLabelValues("failed").Inc()
	case out.Published:
		metrics.TrainingRuns.WithLabelValues("published").Inc()
		metrics.AdaptorVersion.Set(float64(out.Version))
	default:
		metrics.TrainingRuns.WithLabelValues("skipped").Inc()
	}
	return out, err
}

func (r *Runner) train(ctx context.Context, epochs int) (Outcome, error) {
	seq, err := r.feedback.MaxSeq(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: read feedback: %v", domain.ErrTraining, err)
	}
	records, err := r.feedback.Snapshot(ctx, seq)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: read feedback: %v", domain.ErrTraining, err)
	}
	gen, err := r.indexes.Current()
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", domain.ErrTraining, err)
	}
	samples, err := BuildSamples(ctx, gen, records)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Records: len(records), Samples: len(samples)}
	if len(samples) == 0 {
		r.logger.Info("no usable feedback for training", zap.Int("records", len(records)))
		if err := r.repo.SaveWatermark(ctx, seq); err != nil {
			return out, fmt.Errorf("%w: %v", domain.ErrTraining, err)
		}
		r.advance(seq)
		return out, nil
	}

	a, rep, err := adaptor.Fit(ctx, samples, gen.Dimension(), epochs, r.cfg)
	out.Report = rep
	if err != nil {
		return out, err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	a.Version = r.holder.Version() + 1
	a.TrainedAt = time.Now().UTC()
	a.FeedbackSeq = seq
	if err := r.repo.Save(ctx, a); err != nil {
		return out, fmt.Errorf("%w: persist adaptor: %v", domain.ErrTraining, err)
	}
	r.holder.Publish(a)
	r.advance(seq)
	if err := r.repo.SaveWatermark(ctx, seq); err != nil {
		// the published version carries seq as well
		r.logger.Warn("training watermark not saved", zap.Int64("seq", seq), zap.Error(err))
	}
	out.Version = a.Version
	out.Published = true
	r.logger.Info("adaptor published",
		zap.Int64("version", a.Version),
		zap.Int("samples", len(samples)),
		zap.Float64("initial_loss", rep.InitialLoss),
		zap.Float64("final_loss", rep.FinalLoss))
	return out, nil
}

func (r *Runner) advance(seq int64) {
	for {
		cur := r.consumed.Load()
		if seq <= cur || r.consumed.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// BuildSamples embeds the question of every rated record and pairs it with
// the stored embedding of each source it references. Neutral ratings,
// records without a question and sources no longer in the index are
// skipped.
func BuildSamples(ctx context.Context, gen *index.Generation, records []domain.FeedbackRecord) ([]adaptor.Sample, error) {
	var samples []adaptor.Sample
	for _, rec := range records {
		target, ok := adaptor.TargetForRating(rec.Rating)
		if !ok || rec.Question == "" || len(rec.Sources) == 0 {
			continue
		}
		q, err := gen.Embedder.Embed(ctx, rec.Question)
		if err != nil {
			return nil, fmt.Errorf("%w: embed question: %v", domain.ErrTraining, err)
		}
		if embedding.IsZero(q) {
			continue
		}
		for _, ref := range rec.Sources {
			ch, ok := gen.Resolve(ref)
			if !ok || len(ch.Embedding) != len(q) {
				continue
			}
			samples = append(samples, adaptor.Sample{Query: q, Chunk: ch.Embedding, Target: target})
		}
	}
	return samples, nil
}
