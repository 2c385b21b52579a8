package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-recall/config"
	"github.com/becomeliminal/nim-recall/engine"
	"github.com/becomeliminal/nim-recall/history"
	"github.com/becomeliminal/nim-recall/llm"
	"github.com/becomeliminal/nim-recall/llm/anthropic"
	"github.com/becomeliminal/nim-recall/llm/openai"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/memory/embedder/cache"
	"github.com/becomeliminal/nim-recall/memory/embedder/mock"
	embopenai "github.com/becomeliminal/nim-recall/memory/embedder/openai"
	"github.com/becomeliminal/nim-recall/memory/rerank"
	"github.com/becomeliminal/nim-recall/memory/store/chromem"
	"github.com/becomeliminal/nim-recall/memory/store/file"
	"github.com/becomeliminal/nim-recall/metrics"
	"github.com/becomeliminal/nim-recall/tokens"
)

// globals holds the flags shared by every command.
type globals struct {
	configPath string
	logLevel   string
	logOutput  io.Writer
}

// deps is everything a command may need, built from the config file.
type deps struct {
	cfg      *config.Config
	logger   *slog.Logger
	embedder memory.Embedder
	store    memory.Store
	reranker memory.Reranker
	closers  []func() error
}

func (g *globals) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	return cfg, logging.New(cfg.LogLevel, g.logOutput), nil
}

// newDeps opens the memory store and its ports.
func newDeps(ctx context.Context, g *globals) (*deps, error) {
	cfg, logger, err := g.load()
	if err != nil {
		return nil, err
	}
	d := &deps{cfg: cfg, logger: logger}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create data dir", goerr.V("dir", cfg.DataDir))
	}

	if err := d.openEmbedder(); err != nil {
		d.close()
		return nil, err
	}
	if err := d.openStore(ctx); err != nil {
		d.close()
		return nil, err
	}
	if cfg.Rerank.Enabled {
		d.reranker = rerank.New(rerank.Config{
			APIKey:  cfg.Rerank.APIKey,
			BaseURL: cfg.Rerank.BaseURL,
			Model:   cfg.Rerank.Model,
		}, logger)
	}
	return d, nil
}

func (d *deps) openEmbedder() error {
	ec := d.cfg.Embedding
	var emb memory.Embedder
	switch ec.Provider {
	case config.ProviderMock:
		emb = mock.New(ec.Dimensions)
	case config.ProviderOpenAI:
		emb = embopenai.New(embopenai.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
		}, d.logger)
	case config.ProviderONNX:
		onnxEmb, closeFn, err := newONNXEmbedder(ec, d.logger)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, closeFn)
		emb = onnxEmb
	default:
		return goerr.New("unknown embedding provider", goerr.V("provider", ec.Provider))
	}

	if ec.CacheSize > 0 {
		cached, err := cache.New(emb, ec.CacheSize, d.logger)
		if err != nil {
			return goerr.Wrap(err, "failed to create embedding cache")
		}
		d.closers = append(d.closers, func() error {
			cached.Close()
			return nil
		})
		emb = cached
	}
	d.embedder = emb
	return nil
}

func (d *deps) openStore(ctx context.Context) error {
	opts := []file.Option{file.WithLogger(d.logger)}
	if d.cfg.Memory.Store == config.StoreChromem {
		idx, err := chromem.New(d.logger)
		if err != nil {
			return goerr.Wrap(err, "failed to create chromem index")
		}
		opts = append(opts, file.WithIndex(idx))
	}

	store := file.New(d.cfg.MemoryPath(), d.embedder, opts...)
	if err := store.Load(ctx); err != nil {
		// A corrupt snapshot was already logged; keep serving from an empty
		// store rather than refusing to start.
		d.logger.Warn("continuing with an empty memory store", "error", err)
	}
	d.closers = append(d.closers, store.Close)
	d.store = store
	return nil
}

func (d *deps) generator() (llm.Generator, error) {
	lc := d.cfg.LLM
	if lc.APIKey == "" {
		return nil, goerr.New("llm api key is required", goerr.V("provider", lc.Provider))
	}
	switch lc.Provider {
	case config.ProviderAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey:    lc.APIKey,
			BaseURL:   lc.BaseURL,
			Model:     lc.Model,
			MaxTokens: lc.MaxTokens,
		}, anthropic.WithLogger(d.logger)), nil
	case config.ProviderOpenAI:
		return openai.New(openai.Config{
			APIKey:    lc.APIKey,
			BaseURL:   lc.BaseURL,
			Model:     lc.Model,
			MaxTokens: lc.MaxTokens,
		}), nil
	default:
		return nil, goerr.New("unknown llm provider", goerr.V("provider", lc.Provider))
	}
}

// retriever builds the two-stage search from config.
func (d *deps) retriever() *memory.Retriever {
	mc := d.cfg.MemoryManagerConfig()
	opts := []memory.RetrieverOption{
		memory.WithLimit(mc.RecallLimit),
		memory.WithOverFetch(mc.OverFetch),
		memory.WithMinSimilarity(mc.MinSimilarity),
		memory.WithRetrieverLogger(d.logger),
	}
	if d.reranker != nil {
		opts = append(opts, memory.WithReranker(d.reranker))
	}
	return memory.NewRetriever(d.store, d.embedder, opts...)
}

func (d *deps) policy() *memory.MergePolicy {
	mc := d.cfg.MemoryManagerConfig()
	return memory.NewMergePolicy(d.store, d.embedder, mc.MergeThreshold, mc.MergeMode, d.logger)
}

// engine wires the whole turn pipeline.
func (d *deps) engine(gen llm.Generator, m *metrics.Metrics) (*engine.Engine, error) {
	var mopts []memory.Option
	mopts = append(mopts, memory.WithManagerLogger(d.logger))
	if d.reranker != nil {
		mopts = append(mopts, memory.WithManagerReranker(d.reranker))
	}
	mgr := memory.NewSimpleManager(d.store, d.embedder, gen, d.cfg.MemoryManagerConfig(), mopts...)

	summarizer := history.NewLLMSummarizer(gen,
		history.WithTokenCounter(tokens.New(d.logger)),
		history.WithMaxInputTokens(d.cfg.Window.SummaryInputTokens),
		history.WithSummarizerLogger(d.logger))
	reducer, err := history.NewReducer(d.cfg.HistoryConfig(), summarizer, d.logger)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create reducer")
	}

	opts := []engine.Option{
		engine.WithMemory(mgr),
		engine.WithReducer(reducer),
		engine.WithSnapshots(history.NewFileSnapshots(d.cfg.SessionsDir(), d.logger)),
		engine.WithMetrics(m),
		engine.WithLogger(d.logger),
		engine.WithMaxTokens(d.cfg.LLM.MaxTokens),
	}
	if d.cfg.LLM.SystemPrompt != "" {
		opts = append(opts, engine.WithSystemPrompt(d.cfg.LLM.SystemPrompt))
	}
	return engine.NewEngine(gen, opts...), nil
}

// close releases resources in reverse order of creation.
func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("close failed", "error", err)
		}
	}
	d.closers = nil
}
