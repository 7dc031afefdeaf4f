package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"faqrag/internal/domain"
	"faqrag/internal/embedding"
	"faqrag/internal/vectorstore"
)

const stateFile = "index.json"

// DocumentLoader reads the configured sources.
type DocumentLoader interface {
	Load(paths []string) ([]domain.Document, error)
}

// Config describes where the corpus lives and how collections are named.
type Config struct {
	Paths      []string
	DataDir    string
	Collection string
}

type state struct {
	Collection string    `json:"collection"`
	Embedder   string    `json:"embedder"`
	Chunks     int       `json:"chunks"`
	BuiltAt    time.Time `json:"built_at"`
}

// Indexer owns the active index generation. Reads go through Current and
// never block; Reindex builds a complete new generation next to the active
// one and swaps it in only once it is fully written.
type Indexer struct {
	cfg         Config
	loader      DocumentLoader
	chunker     domain.Chunker
	newEmbedder embedding.Factory
	store       vectorstore.Storage
	logger      *zap.Logger

	mu      sync.Mutex
	current atomic.Pointer[Generation]
	lastSeq int64
	retired string
}

func New(cfg Config, loader DocumentLoader, chunker domain.Chunker, newEmbedder embedding.Factory, store vectorstore.Storage, logger *zap.Logger) *Indexer {
	if cfg.Collection == "" {
		cfg.Collection = "faq_documents"
	}
	return &Indexer{
		cfg:         cfg,
		loader:      loader,
		chunker:     chunker,
		newEmbedder: newEmbedder,
		store:       store,
		logger:      logger,
	}
}

// Current returns the active generation.
func (ix *Indexer) Current() (*Generation, error) {
	g := ix.current.Load()
	if g == nil {
		return nil, fmt.Errorf("%w: no index has been built", domain.ErrIndexUnavailable)
	}
	return g, nil
}

// DocumentCount is the number of chunks in the active generation.
func (ix *Indexer) DocumentCount() int {
	if g := ix.current.Load(); g != nil {
		return len(g.Chunks)
	}
	return 0
}

// Open restores the generation recorded in the state file or builds a new
// one when there is nothing usable to restore. Collections left behind by
// earlier runs are dropped.
func (ix *Indexer) Open(ctx context.Context) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	g, err := ix.restore(ctx)
	if err != nil {
		ix.logger.Warn("index restore failed, rebuilding", zap.Error(err))
	}
	if g == nil {
		g, err = ix.build(ctx)
		if err != nil {
			return 0, err
		}
	} else {
		ix.current.Store(g)
		ix.logger.Info("index restored", zap.String("collection", g.Collection), zap.Int("chunks", len(g.Chunks)))
	}
	ix.dropStale(ctx, g.Collection)
	return len(g.Chunks), nil
}

// Reindex reloads every source and publishes a new generation. Concurrent
// calls are serialised. On failure the previous generation keeps serving.
func (ix *Indexer) Reindex(ctx context.Context) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	g, err := ix.build(ctx)
	if err != nil {
		return 0, err
	}
	return len(g.Chunks), nil
}

func (ix *Indexer) build(ctx context.Context) (*Generation, error) {
	started := time.Now()
	docs, err := ix.loader.Load(ix.cfg.Paths)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	var chunks []domain.Chunk
	var texts []string
	seen := make(map[string]struct{})
	for _, d := range docs {
		cs, err := ix.chunker.Chunk(d)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", d.Path, err)
		}
		for _, ch := range cs {
			if _, dup := seen[ch.ID]; dup {
				ix.logger.Warn("skipping duplicate chunk", zap.String("chunk_id", ch.ID), zap.String("path", d.Path))
				continue
			}
			seen[ch.ID] = struct{}{}
			chunks = append(chunks, ch)
			texts = append(texts, ch.Text)
		}
	}
	if len(chunks) == 0 {
		return nil, errors.New("sources produced no chunks")
	}

	emb, err := ix.newEmbedder()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCollaborator, err)
	}
	if err := emb.Prepare(texts); err != nil {
		return nil, fmt.Errorf("prepare embedder: %w", err)
	}
	vecs, err := embedding.EmbedAll(ctx, emb, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embed chunks: %v", domain.ErrCollaborator, err)
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}

	name := ix.nextCollection()
	if err := ix.store.Create(ctx, name, len(vecs[0])); err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", domain.ErrIndexUnavailable, err)
	}
	if err := ix.store.Upsert(ctx, name, chunks); err != nil {
		ix.discard(name)
		return nil, fmt.Errorf("%w: upsert: %v", domain.ErrIndexUnavailable, err)
	}
	builtAt := time.Now().UTC()
	if err := ix.writeState(state{Collection: name, Embedder: emb.Name(), Chunks: len(chunks), BuiltAt: builtAt}); err != nil {
		ix.discard(name)
		return nil, fmt.Errorf("persist index state: %w", err)
	}

	g := newGeneration(name, emb, chunks, ix.store, builtAt)
	prev := ix.current.Swap(g)

	// The generation replaced now stays around until the next swap so that
	// queries already holding it can finish.
	if ix.retired != "" {
		ix.discard(ix.retired)
		ix.retired = ""
	}
	if prev != nil {
		ix.retired = prev.Collection
	}
	ix.logger.Info("index built",
		zap.String("collection", name),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", time.Since(started)))
	return g, nil
}

func (ix *Indexer) restore(ctx context.Context) (*Generation, error) {
	st, err := ix.readState()
	if err != nil || st == nil {
		return nil, err
	}
	emb, err := ix.newEmbedder()
	if err != nil {
		return nil, err
	}
	if emb.Name() != st.Embedder {
		ix.logger.Info("embedder changed since last build", zap.String("was", st.Embedder), zap.String("now", emb.Name()))
		return nil, nil
	}
	chunks, err := ix.store.Chunks(ctx, st.Collection)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	if err := emb.Prepare(texts); err != nil {
		return nil, err
	}
	if d := emb.Dimension(); d != 0 && d != len(chunks[0].Embedding) {
		return nil, fmt.Errorf("embedder dimension %d does not match stored %d", d, len(chunks[0].Embedding))
	}
	ix.observeSeq(st.Collection)
	return newGeneration(st.Collection, emb, chunks, ix.store, st.BuiltAt), nil
}

func (ix *Indexer) dropStale(ctx context.Context, active string) {
	names, err := ix.store.Collections(ctx)
	if err != nil {
		ix.logger.Warn("list collections failed", zap.Error(err))
		return
	}
	prefix := ix.cfg.Collection + "_"
	for _, n := range names {
		if n == active || !strings.HasPrefix(n, prefix) {
			continue
		}
		ix.discard(n)
	}
}

func (ix *Indexer) discard(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ix.store.Drop(ctx, name); err != nil {
		ix.logger.Warn("drop collection failed", zap.String("collection", name), zap.Error(err))
	}
}

func (ix *Indexer) nextCollection() string {
	seq := time.Now().UnixNano()
	if seq <= ix.lastSeq {
		seq = ix.lastSeq + 1
	}
	ix.lastSeq = seq
	return fmt.Sprintf("%s_%d", ix.cfg.Collection, seq)
}

func (ix *Indexer) observeSeq(collection string) {
	var seq int64
	if _, err := fmt.Sscanf(strings.TrimPrefix(collection, ix.cfg.Collection+"_"), "%d", &seq); err == nil && seq > ix.lastSeq {
		ix.lastSeq = seq
	}
}

func (ix *Indexer) statePath() string {
	return filepath.Join(ix.cfg.DataDir, stateFile)
}

func (ix *Indexer) readState() (*state, error) {
	data, err := os.ReadFile(ix.statePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.Collection == "" {
		return nil, nil
	}
	return &st, nil
}

func (ix *Indexer) writeState(st state) error {
	if err := os.MkdirAll(ix.cfg.DataDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := ix.statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, ix.statePath())
}
