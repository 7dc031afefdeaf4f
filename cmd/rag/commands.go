package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"faqrag/internal/app"
	"faqrag/internal/config"
	"faqrag/internal/httpapi"
	"faqrag/internal/logger"
	"faqrag/internal/service"
	"faqrag/internal/tui"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "rag",
		Short:         "FAQ question answering with feedback-trained retrieval",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"path to YAML config file (uses ./config.yaml or ~/.config/faqrag/config.yaml if not provided)")

	root.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newFeedbackCmd(opts),
		newTUICmd(opts),
		newReindexCmd(opts),
		newTrainCmd(opts),
		newStatsCmd(opts),
		newHealthCmd(opts),
	)
	return root
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}

// withApp builds the application, runs fn and tears it down.
func withApp(ctx context.Context, opts *rootOptions, fn func(*app.App) error) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with background training",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, opts, func(a *app.App) error {
				if err := a.StartBackground(); err != nil {
					return fmt.Errorf("start training schedule: %w", err)
				}
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				gin.SetMode(gin.ReleaseMode)
				router := httpapi.NewRouter(a.Service, a.Config.Training.Epochs, a.Logger)
				return httpapi.Serve(ctx, addr, router, a.Logger)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var noAdaptor, asJSON bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				resp, err := a.Service.AnswerQuestion(cmd.Context(), args[0], !noAdaptor)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, resp)
				}
				cmd.Println(resp.Answer)
				cmd.Println()
				cmd.Printf("query_id=%s confidence=%.2f adaptor_version=%d\n", resp.QueryID, resp.Confidence, resp.AdaptorVersion)
				for i, s := range resp.Sources {
					cmd.Printf("[%d] %s (%.3f)\n", i+1, s.SourceLabel, s.BestScore())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noAdaptor, "no-adaptor", false, "search with raw embeddings")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the full response as JSON")
	return cmd
}

func newFeedbackCmd(opts *rootOptions) *cobra.Command {
	var comment, question string
	var rating int
	var sources []string
	cmd := &cobra.Command{
		Use:   "feedback [query-id]",
		Short: "Rate an answer from 1 to 5",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				res, err := a.Service.SubmitFeedback(cmd.Context(), service.FeedbackRequest{
					QueryID:  args[0],
					Rating:   rating,
					Comment:  comment,
					Sources:  sources,
					Question: question,
				})
				if err != nil {
					return err
				}
				// a triggered run would die with the process
				a.Scheduler.Wait()
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().IntVarP(&rating, "rating", "r", 0, "rating from 1 to 5")
	cmd.Flags().StringVar(&comment, "comment", "", "free-form comment")
	cmd.Flags().StringVar(&question, "question", "", "question text when the query session has expired")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source labels the answer used")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive question answering in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				if err := a.StartBackground(); err != nil {
					return err
				}
				header := fmt.Sprintf("%d chunks indexed", a.Indexer.DocumentCount())
				m := tui.New(cmd.Context(), a.Service, header)
				_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
				return err
			})
		},
	}
}

func newReindexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from the configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				n, err := a.Service.Reindex(cmd.Context())
				if err != nil {
					return err
				}
				cmd.Printf("reindexed %d chunks\n", n)
				return nil
			})
		},
	}
}

func newTrainCmd(opts *rootOptions) *cobra.Command {
	var epochs int
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the embedding adaptor on all stored feedback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				if epochs <= 0 {
					epochs = a.Config.Training.Epochs
				}
				out, err := a.Runner.Train(cmd.Context(), epochs)
				if err != nil {
					return err
				}
				a.Logger.Info("training finished",
					zap.Int64("version", out.Version),
					zap.Bool("published", out.Published),
					zap.Int("samples", out.Samples))
				return printJSON(cmd, map[string]any{
					"version":      out.Version,
					"published":    out.Published,
					"records":      out.Records,
					"samples":      out.Samples,
					"epochs":       out.Report.Epochs,
					"initial_loss": out.Report.InitialLoss,
					"final_loss":   out.Report.FinalLoss,
				})
			})
		},
	}
	cmd.Flags().IntVar(&epochs, "epochs", 0, "training epochs (defaults to training.epochs)")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show feedback statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				stats, err := a.Service.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			})
		},
	}
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report index, feedback and adaptor state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				h, err := a.Service.Health(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, h)
			})
		},
	}
}
