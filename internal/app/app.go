package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"faqrag/internal/adaptor"
	"faqrag/internal/answer"
	"faqrag/internal/chunker"
	"faqrag/internal/config"
	"faqrag/internal/database"
	"faqrag/internal/domain"
	"faqrag/internal/embedding"
	"faqrag/internal/embedding/openai"
	"faqrag/internal/embedding/tfidf"
	"faqrag/internal/expander"
	"faqrag/internal/feedback"
	"faqrag/internal/index"
	"faqrag/internal/llm"
	"faqrag/internal/loader"
	"faqrag/internal/metrics"
	"faqrag/internal/rerank"
	"faqrag/internal/retriever"
	"faqrag/internal/service"
	"faqrag/internal/session"
	"faqrag/internal/summarizer"
	"faqrag/internal/training"
	"faqrag/internal/vectorstore"
	"faqrag/internal/vectorstore/memory"
	"faqrag/internal/vectorstore/qdrant"
	"faqrag/internal/vectorstore/sqlite"
)

// App holds the assembled components of one process.
type App struct {
	Config    *config.AppConfig
	Logger    *zap.Logger
	DB        *sqlx.DB
	Indexer   *index.Indexer
	Runner    *training.Runner
	Scheduler *training.Scheduler
	Service   *service.RAGServiceImpl
}

// New builds every component from cfg and opens (or builds) the index.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*App, error) {
	db, err := database.Open(filepath.Join(cfg.DataDir, "faqrag.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, DB: db}
	if err := a.assemble(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) assemble(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	store, err := newVectorStore(cfg, a.DB)
	if err != nil {
		return err
	}
	factory, err := embedderFactory(cfg)
	if err != nil {
		return err
	}
	var ch domain.Chunker
	switch cfg.Chunker.Type {
	case "sentence", "":
		ch = chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences, cfg.Chunker.MaxChars)
	default:
		return fmt.Errorf("unknown chunker: %s", cfg.Chunker.Type)
	}

	a.Indexer = index.New(index.Config{
		Paths:      cfg.Source.Paths,
		DataDir:    cfg.DataDir,
		Collection: cfg.VectorStore.Collection,
	}, loader.New(logger), ch, factory, store, logger)
	n, err := a.Indexer.Open(ctx)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	metrics.IndexedChunks.Set(float64(n))

	var completer llm.Completer
	if cfg.LLM != nil {
		completer, err = llm.NewClient(llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKeyEnv:   cfg.LLM.APIKeyEnv,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     seconds(cfg.LLM.TimeoutSecs),
		})
		if err != nil {
			return fmt.Errorf("llm init failed: %w", err)
		}
	}

	exp, err := newExpander(cfg, completer, logger)
	if err != nil {
		return err
	}
	rr, err := newReranker(cfg)
	if err != nil {
		return err
	}
	gen, err := newGenerator(cfg, completer, logger)
	if err != nil {
		return err
	}

	fb, err := feedback.NewStore(a.DB)
	if err != nil {
		return err
	}
	sessions, err := session.NewCache(a.DB)
	if err != nil {
		return err
	}
	repo, err := adaptor.NewRepository(a.DB)
	if err != nil {
		return err
	}
	holder := &adaptor.Holder{}
	latest, err := repo.Latest(ctx)
	if err != nil {
		return fmt.Errorf("load adaptor: %w", err)
	}
	if latest != nil {
		holder.Publish(latest)
		metrics.AdaptorVersion.Set(float64(latest.Version))
		logger.Info("adaptor loaded", zap.Int64("version", latest.Version), zap.Time("trained_at", latest.TrainedAt))
	}

	a.Runner = training.NewRunner(fb, a.Indexer, holder, repo, adaptor.TrainConfig{
		Rank:         cfg.Training.Rank,
		LearningRate: cfg.Training.LearningRate,
		Seed:         cfg.Training.Seed,
	}, logger)
	if err := a.Runner.Restore(ctx); err != nil {
		return err
	}
	a.Scheduler = training.NewScheduler(a.Runner, cfg.Training.Epochs, logger)

	threshold := 0
	if cfg.Training.Enabled {
		threshold = cfg.Training.FeedbackThreshold
	}
	a.Service = service.NewRAGService(service.Deps{
		Indexer:   a.Indexer,
		Expander:  exp,
		Retriever: retriever.New(a.Indexer, holder, cfg.Retrieval.TopK, logger),
		Reranker:  rr,
		Generator: gen,
		Feedback:  fb,
		Sessions:  sessions,
		Adaptors:  holder,
		Scheduler: a.Scheduler,
		Training:  a.Runner,
		Logger:    logger,
	}, service.Options{
		FeedbackThreshold: threshold,
		SessionRetention:  time.Duration(cfg.Sessions.RetentionHours) * time.Hour,
	})
	return nil
}

// StartBackground starts the periodic training schedule when enabled.
func (a *App) StartBackground() error {
	if !a.Config.Training.Enabled {
		return nil
	}
	return a.Scheduler.Start(a.Config.Training.Schedule)
}

// Close stops background training and releases the database.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	return a.DB.Close()
}

func newVectorStore(cfg *config.AppConfig, db *sqlx.DB) (vectorstore.Storage, error) {
	switch cfg.VectorStore.Type {
	case "sqlite", "":
		return sqlite.NewStorage(db)
	case "memory":
		return memory.NewStorage(), nil
	case "qdrant":
		q := cfg.VectorStore.Qdrant
		if q == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		key := ""
		if q.APIKeyEnv != "" {
			key = os.Getenv(q.APIKeyEnv)
		}
		return qdrant.NewStorage(qdrant.Config{URL: q.URL, APIKey: key, Timeout: seconds(q.TimeoutSecs)}), nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}
}

func embedderFactory(cfg *config.AppConfig) (embedding.Factory, error) {
	switch cfg.Embedder.Type {
	case "tfidf", "":
		return func() (embedding.Embedder, error) { return tfidf.NewEmbedder(), nil }, nil
	case "openai":
		o := cfg.Embedder.OpenAI
		if o == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		return func() (embedding.Embedder, error) {
			return openai.NewClient(openai.Config{
				BaseURL:   o.BaseURL,
				APIKeyEnv: o.APIKeyEnv,
				Model:     o.Model,
				Timeout:   seconds(o.TimeoutSecs),
				BatchSize: o.BatchSize,
			})
		}, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

func newExpander(cfg *config.AppConfig, completer llm.Completer, logger *zap.Logger) (expander.Expander, error) {
	switch cfg.Expander.Type {
	case "none", "":
		return expander.None{}, nil
	case "llm":
		if completer == nil {
			return nil, fmt.Errorf("llm expander needs the llm section")
		}
		return expander.NewLLM(completer, cfg.Expander.MaxExpansions, seconds(cfg.Expander.TimeoutSecs), logger), nil
	default:
		return nil, fmt.Errorf("unknown expander: %s", cfg.Expander.Type)
	}
}

func newReranker(cfg *config.AppConfig) (service.Reranker, error) {
	timeout := seconds(cfg.Reranker.TimeoutSecs)
	switch cfg.Reranker.Type {
	case "lexical", "":
		return rerank.NewCrossEncoder(rerank.NewLexicalScorer(), timeout), nil
	case "http":
		h := cfg.Reranker.HTTP
		if h == nil || h.URL == "" {
			return nil, fmt.Errorf("http reranker needs reranker.http.url")
		}
		key := ""
		if h.APIKeyEnv != "" {
			key = os.Getenv(h.APIKeyEnv)
		}
		scorer := rerank.NewHTTPScorer(h.URL, key, h.Model, &http.Client{Timeout: timeout})
		return rerank.NewCrossEncoder(scorer, timeout), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown reranker: %s", cfg.Reranker.Type)
	}
}

func newGenerator(cfg *config.AppConfig, completer llm.Completer, logger *zap.Logger) (answer.Generator, error) {
	switch cfg.Generator.Type {
	case "extractive", "":
		return answer.NewExtractive(summarizer.NewFrequencySummarizer(), cfg.Generator.ContextPassages, cfg.Generator.MaxSentences), nil
	case "llm":
		if completer == nil {
			return nil, fmt.Errorf("llm generator needs the llm section")
		}
		return answer.NewLLM(completer, cfg.Generator.ContextPassages, seconds(cfg.Generator.TimeoutSecs), logger), nil
	default:
		return nil, fmt.Errorf("unknown generator: %s", cfg.Generator.Type)
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
