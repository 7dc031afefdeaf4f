package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"faqrag/internal/adaptor"
	"faqrag/internal/answer"
	"faqrag/internal/domain"
	"faqrag/internal/expander"
	"faqrag/internal/feedback"
	"faqrag/internal/index"
	"faqrag/internal/metrics"
	"faqrag/internal/rerank"
	"faqrag/internal/retriever"
	"faqrag/internal/training"
)

// Indexer is the document store as seen by the service.
type Indexer interface {
	Current() (*index.Generation, error)
	Reindex(ctx context.Context) (int, error)
	DocumentCount() int
}

// FeedbackStore is the durable feedback log.
type FeedbackStore interface {
	Append(ctx context.Context, rec domain.FeedbackRecord) (domain.FeedbackRecord, error)
	Count(ctx context.Context) (int, error)
	CountSince(ctx context.Context, seq int64) (int, error)
	Stats(ctx context.Context) (domain.FeedbackStats, error)
}

// SessionCache holds answered question metadata.
type SessionCache interface {
	Put(ctx context.Context, s domain.QuerySession) error
	Get(ctx context.Context, queryID string) (domain.QuerySession, error)
	AttachFeedback(ctx context.Context, queryID string, fb domain.FeedbackSummary) error
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// Retriever searches the index for expanded queries.
type Retriever interface {
	Retrieve(ctx context.Context, queries []string, useAdaptor bool) (retriever.Result, error)
}

// Reranker reorders candidates.
type Reranker interface {
	Rerank(ctx context.Context, question string, candidates []domain.Candidate) ([]domain.Candidate, error)
}

// TrainingScheduler starts coalesced background runs.
type TrainingScheduler interface {
	Trigger(source string, epochs int) bool
	Running() bool
}

// Watermarker reports the newest feedback already folded into training.
type Watermarker interface {
	Watermark() int64
}

// Deps bundles the components the service orchestrates.
type Deps struct {
	Indexer   Indexer
	Expander  expander.Expander
	Retriever Retriever
	Reranker  Reranker
	Generator answer.Generator
	Feedback  FeedbackStore
	Sessions  SessionCache
	Adaptors  *adaptor.Holder
	Scheduler TrainingScheduler
	Training  Watermarker
	Logger    *zap.Logger
}

// Options tunes service behaviour.
type Options struct {
	// FeedbackThreshold is the number of untrained feedback records that
	// makes SubmitFeedback signal a training run. 0 disables the signal.
	FeedbackThreshold int
	// SessionRetention prunes rated sessions older than this. 0 keeps them.
	SessionRetention time.Duration
}

// RAGServiceImpl implements the question answering and learning operations.
type RAGServiceImpl struct {
	Deps
	opts Options
	now  func() time.Time
}

func NewRAGService(deps Deps, opts Options) *RAGServiceImpl {
	if deps.Expander == nil {
		deps.Expander = expander.None{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Adaptors == nil {
		deps.Adaptors = &adaptor.Holder{}
	}
	return &RAGServiceImpl{Deps: deps, opts: opts, now: time.Now}
}

// AnswerQuestion expands, retrieves, re-ranks and answers question, and
// records a session so later feedback can refer to it by query id.
func (s *RAGServiceImpl) AnswerQuestion(ctx context.Context, question string, useAdaptor bool) (domain.QueryResponse, error) {
	started := s.now()
	question = strings.TrimSpace(question)
	if question == "" {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		return domain.QueryResponse{}, fmt.Errorf("%w: question is required", domain.ErrValidation)
	}
	queryID := uuid.NewString()
	log := s.Logger.With(zap.String("query_id", queryID))

	stage := time.Now()
	queries := s.Expander.Expand(ctx, question)
	if len(queries) == 0 || queries[0] != question {
		queries = append([]string{question}, queries...)
	}
	metrics.StageDuration.WithLabelValues("expand").Observe(time.Since(stage).Seconds())
	metrics.ExpandedQueries.Observe(float64(len(queries)))

	stage = time.Now()
	retrieved, err := s.Retriever.Retrieve(ctx, queries, useAdaptor)
	metrics.StageDuration.WithLabelValues("retrieve").Observe(time.Since(stage).Seconds())
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		log.Error("retrieval failed", zap.Error(err))
		if !errors.Is(err, domain.ErrCollaborator) && !errors.Is(err, domain.ErrIndexUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
		}
		return domain.QueryResponse{}, err
	}

	stage = time.Now()
	ranked := retrieved.Candidates
	if s.Reranker != nil && len(ranked) > 0 {
		reranked, err := s.Reranker.Rerank(ctx, question, ranked)
		if err != nil {
			metrics.CollaboratorFailures.WithLabelValues("reranker").Inc()
			log.Warn("re-ranking failed, keeping vector order", zap.Error(err))
		} else {
			ranked = reranked
		}
	}
	metrics.StageDuration.WithLabelValues("rerank").Observe(time.Since(stage).Seconds())

	stage = time.Now()
	ans := s.Generator.Generate(ctx, question, ranked)
	metrics.StageDuration.WithLabelValues("generate").Observe(time.Since(stage).Seconds())

	sources := make([]string, len(ranked))
	for i, c := range ranked {
		sources[i] = c.ChunkID
	}
	if err := s.Sessions.Put(ctx, domain.QuerySession{QueryID: queryID, Question: question, Sources: sources, CreatedAt: started}); err != nil {
		// feedback can still be stored when the client resends the question
		log.Warn("session not recorded", zap.Error(err))
	}

	outcome := "answered"
	if ans.Fallback {
		outcome = "fallback"
	}
	metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	metrics.QueryDuration.Observe(time.Since(started).Seconds())
	log.Info("question answered",
		zap.Int("queries", len(queries)),
		zap.Int("candidates", len(ranked)),
		zap.Float64("confidence", ans.Confidence),
		zap.Bool("fallback", ans.Fallback),
		zap.Int64("adaptor_version", retrieved.AdaptorVersion))

	return domain.QueryResponse{
		QueryID:        queryID,
		Answer:         ans.Text,
		Confidence:     ans.Confidence,
		Fallback:       ans.Fallback,
		Sources:        ranked,
		Expansion:      domain.ExpansionDetails{Original: question, Queries: queries},
		UseAdaptor:     retrieved.UsedAdaptor,
		AdaptorVersion: retrieved.AdaptorVersion,
		Timestamp:      started.UTC(),
	}, nil
}

// FeedbackRequest is a user judgement of an answer. Question and Sources
// are optional and filled from the session cache when omitted.
type FeedbackRequest struct {
	QueryID  string
	Rating   int
	Comment  string
	Sources  []string
	Question string
}

// FeedbackResult acknowledges a stored record.
type FeedbackResult struct {
	FeedbackID      string `json:"feedback_id"`
	TriggerTraining bool   `json:"trigger_training"`
	TrainingStarted bool   `json:"training_started"`
}

// SubmitFeedback validates and stores feedback, merging in the cached
// session, and signals training once enough untrained feedback piled up.
func (s *RAGServiceImpl) SubmitFeedback(ctx context.Context, req FeedbackRequest) (FeedbackResult, error) {
	if strings.TrimSpace(req.QueryID) == "" {
		return FeedbackResult{}, fmt.Errorf("%w: query_id is required", domain.ErrValidation)
	}
	if err := feedback.ValidateRating(req.Rating); err != nil {
		return FeedbackResult{}, err
	}

	sess, err := s.Sessions.Get(ctx, req.QueryID)
	haveSession := err == nil
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		if req.Question == "" {
			return FeedbackResult{}, err
		}
	default:
		return FeedbackResult{}, err
	}
	if req.Question == "" {
		req.Question = sess.Question
	}
	if len(req.Sources) == 0 {
		req.Sources = sess.Sources
	}

	rec, err := s.Feedback.Append(ctx, domain.FeedbackRecord{
		QueryID:  req.QueryID,
		Question: req.Question,
		Rating:   req.Rating,
		Comment:  req.Comment,
		Sources:  req.Sources,
	})
	if err != nil {
		return FeedbackResult{}, err
	}
	metrics.FeedbackTotal.WithLabelValues(strconv.Itoa(rec.Rating)).Inc()
	if haveSession {
		if err := s.Sessions.AttachFeedback(ctx, req.QueryID, domain.FeedbackSummary{FeedbackID: rec.ID, Rating: rec.Rating, Comment: rec.Comment}); err != nil {
			s.Logger.Warn("feedback not attached to session", zap.String("query_id", req.QueryID), zap.Error(err))
		}
	}

	res := FeedbackResult{FeedbackID: rec.ID}
	if s.opts.FeedbackThreshold > 0 {
		pending, err := s.Feedback.CountSince(ctx, s.watermark())
		if err != nil {
			s.Logger.Warn("pending feedback count failed", zap.Error(err))
		} else if pending >= s.opts.FeedbackThreshold {
			res.TriggerTraining = true
			if s.Scheduler != nil {
				res.TrainingStarted = s.Scheduler.Trigger("threshold", 0)
			}
		}
	}
	s.pruneSessions(ctx)
	s.Logger.Info("feedback stored",
		zap.String("query_id", req.QueryID),
		zap.String("feedback_id", rec.ID),
		zap.Int("rating", rec.Rating),
		zap.Bool("trigger_training", res.TriggerTraining))
	return res, nil
}

func (s *RAGServiceImpl) watermark() int64 {
	if s.Training != nil {
		return s.Training.Watermark()
	}
	if a := s.Adaptors.Load(); a != nil {
		return a.FeedbackSeq
	}
	return 0
}

func (s *RAGServiceImpl) pruneSessions(ctx context.Context) {
	if s.opts.SessionRetention <= 0 {
		return
	}
	n, err := s.Sessions.Prune(ctx, s.now().Add(-s.opts.SessionRetention))
	if err != nil {
		s.Logger.Warn("session prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.Logger.Debug("sessions pruned", zap.Int("count", n))
	}
}

// Stats aggregates all stored feedback. Sources still present in the
// current index are labelled with their human readable source label.
func (s *RAGServiceImpl) Stats(ctx context.Context) (domain.FeedbackStats, error) {
	stats, err := s.Feedback.Stats(ctx)
	if err != nil {
		return stats, err
	}
	gen, err := s.Indexer.Current()
	if err != nil {
		return stats, nil
	}
	for i, src := range stats.Sources {
		if ch, ok := gen.Resolve(src.Source); ok {
			stats.Sources[i].SourceLabel = ch.SourceLabel
		}
	}
	return stats, nil
}

// TriggerTraining starts a background run unless one is in flight.
func (s *RAGServiceImpl) TriggerTraining(epochs int) bool {
	if s.Scheduler == nil {
		return false
	}
	return s.Scheduler.Trigger("manual", epochs)
}

// Reindex rebuilds the index from the sources. The previous index keeps
// serving until the new one is complete and keeps serving if it fails.
func (s *RAGServiceImpl) Reindex(ctx context.Context) (int, error) {
	n, err := s.Indexer.Reindex(ctx)
	if err != nil {
		metrics.ReindexTotal.WithLabelValues("failed").Inc()
		s.Logger.Error("reindex failed", zap.Error(err))
		return 0, err
	}
	metrics.ReindexTotal.WithLabelValues("ok").Inc()
	metrics.IndexedChunks.Set(float64(n))
	if a := s.Adaptors.Load(); a.Trained() {
		if gen, err := s.Indexer.Current(); err == nil && !a.Compatible(gen.Dimension()) {
			s.Logger.Warn("adaptor does not match the new index dimension and will be ignored until retrained",
				zap.Int64("adaptor_version", a.Version), zap.Int("adaptor_dim", a.Dim), zap.Int("index_dim", gen.Dimension()))
		}
	}
	return n, nil
}

// Health reports the serving state. It fails with ErrIndexUnavailable when
// no index is loaded.
func (s *RAGServiceImpl) Health(ctx context.Context) (domain.Health, error) {
	h := domain.Health{DocumentCount: s.Indexer.DocumentCount()}
	if a := s.Adaptors.Load(); a.Trained() {
		h.AdaptorTrained = true
		h.AdaptorVersion = a.Version
	}
	if s.Scheduler != nil {
		h.Training = s.Scheduler.Running()
	}
	n, err := s.Feedback.Count(ctx)
	if err != nil {
		return h, err
	}
	h.FeedbackCount = n
	if _, err := s.Indexer.Current(); err != nil {
		return h, err
	}
	return h, nil
}

var _ TrainingScheduler = (*training.Scheduler)(nil)
var _ Watermarker = (*training.Runner)(nil)
var _ Reranker = (*rerank.CrossEncoder)(nil)
