package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zen-systems/careerflow/pkg/analysis"
	"github.com/zen-systems/careerflow/pkg/config"
	"github.com/zen-systems/careerflow/pkg/document"
	"github.com/zen-systems/careerflow/pkg/pipeline"
	"github.com/zen-systems/careerflow/pkg/server"
	"github.com/zen-systems/careerflow/pkg/store"
	"github.com/zen-systems/careerflow/pkg/worker"
)

var (
	configFile  string
	adapterFlag string
	modelFlag   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "careerflow",
		Short: "Resume analysis and job matching with staged LLM agents",
		Long: `Careerflow runs a resume through a pipeline of LLM agents. Each stage
	produces a JSON object, a JSON array or text that later stages build on:
	the basic pipeline summarizes the resume and finds matching jobs, the
	full pipeline adds ATS scoring, a rewrite, a cover letter and interview
	questions.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ~/.careerflow/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&adapterFlag, "adapter", "", "override provider (google, anthropic, openai, deepseek, mock)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "override model")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(stagesCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	var evidenceDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload API",
		Long: `Starts the HTTP API. POST a resume to /analyze as the multipart field
	"file" (.pdf, .docx or .txt); the optional "pipeline" field picks a builtin
	pipeline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signalContext()
			defer stop()

			svc, cleanup, err := newService(ctx, cfg, evidenceDir)
			if err != nil {
				return err
			}
			defer cleanup()

			srv, err := server.New(svc, server.Options{
				UploadDir:       cfg.Server.UploadDir,
				MaxUploadBytes:  cfg.Server.MaxUploadBytes,
				DefaultPipeline: cfg.Pipeline,
				Logger:          log.Printf,
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Listen(cfg.Server.Addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Printf("[careerflow] shutting down")
				return srv.Shutdown()
			}
		},
	}

	cmd.Flags().StringVar(&evidenceDir, "evidence", "", "write run evidence under this directory")
	return cmd
}

func runCmd() *cobra.Command {
	var documentFlag string
	var pipelineFlag string
	var manifestFlag string
	var outFlag string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Analyze a resume",
		Long: `Runs a pipeline over a local document and prints the JSON response.
	The command exits non-zero when any stage fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if documentFlag == "" {
				return errors.New("--document is required")
			}
			if !document.Supported(documentFlag) {
				return fmt.Errorf("%w: %s", document.ErrUnsupported, documentFlag)
			}
			if _, err := os.Stat(documentFlag); err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ref := manifestFlag
			if ref == "" {
				ref = pipelineFlag
			}
			if ref == "" {
				ref = cfg.Pipeline
			}
			p, err := pipeline.Resolve(ref)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			svc, cleanup, err := newService(ctx, cfg, outFlag)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := svc.Analyze(ctx, analysis.Request{Pipeline: p, DocumentPath: documentFlag})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res.Response); err != nil {
				return err
			}
			if outFlag != "" {
				fmt.Fprintf(os.Stderr, "Run complete. Evidence: %s/%s\n", outFlag, res.Run.ID)
			}
			if !res.Response.Success {
				return fmt.Errorf("stage %s %s", res.Response.FailedStage, res.Response.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&documentFlag, "document", "d", "", "resume to analyze (.pdf, .docx or .txt)")
	cmd.Flags().StringVarP(&pipelineFlag, "pipeline", "p", "", "builtin pipeline ("+strings.Join(pipeline.BuiltinNames(), ", ")+")")
	cmd.Flags().StringVarP(&manifestFlag, "file", "f", "", "pipeline manifest path (overrides --pipeline)")
	cmd.Flags().StringVar(&outFlag, "out", "", "evidence output base directory")

	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [pipeline.yaml]",
		Short: "Validate a pipeline manifest",
		Long:  "Validates pipeline YAML without executing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pipeline.LoadManifest(args[0])
			if err != nil {
				return err
			}
			if err := p.Validate(); err != nil {
				return err
			}
			fmt.Println("Pipeline manifest is valid.")
			return nil
		},
	}
}

func stagesCmd() *cobra.Command {
	var pipelineFlag string

	cmd := &cobra.Command{
		Use:   "stages",
		Short: "List the stages of a pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pipeline.Resolve(pipelineFlag)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tAGENT\tSHAPE\tTOOLS\tDEPENDS ON")
			for _, s := range p.Stages {
				var toolNames []string
				for _, t := range s.ToolSet() {
					toolNames = append(toolNames, string(t))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, orDash(s.Agent), s.Shape, formatList(toolNames), formatList(s.DependsOn))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&pipelineFlag, "pipeline", "p", "basic", "builtin pipeline name or manifest path")
	return cmd
}

func workerCmd() *cobra.Command {
	var concurrency int
	var evidenceDir string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume analysis jobs from RabbitMQ",
		Long: `Consumes {job_id, object_key, file_name, pipeline} messages, downloads the
	document from object storage, runs the pipeline and publishes status
	updates to the updates exchange.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signalContext()
			defer stop()

			svc, cleanup, err := newService(ctx, cfg, evidenceDir)
			if err != nil {
				return err
			}
			defer cleanup()

			s3Client, err := store.NewS3Client(ctx, cfg.Storage.S3)
			if err != nil {
				return err
			}
			docs := store.NewDocumentStore(s3Client, cfg.Storage.S3.Bucket)

			broker, err := worker.Dial(cfg.Broker.AMQPURL, cfg.Broker.Queue, cfg.Broker.UpdatesExchange)
			if err != nil {
				return err
			}
			defer broker.Close()

			deliveries, err := broker.Deliveries(concurrency)
			if err != nil {
				return err
			}

			w, err := worker.New(svc, docs, broker,
				worker.WithDefaultPipeline(cfg.Pipeline),
				worker.WithLogger(log.Printf))
			if err != nil {
				return err
			}

			log.Printf("[careerflow] starting %d workers on %s", concurrency, cfg.Broker.Queue)
			w.Run(ctx, deliveries, concurrency)
			return nil
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 3, "number of concurrent jobs")
	cmd.Flags().StringVar(&evidenceDir, "evidence", "", "write run evidence under this directory")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the run tables in Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Migrations need no model credentials, so skip Validate.
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signalContext()
			defer stop()

			pool, err := store.Connect(ctx, cfg.Storage.PostgresDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := store.NewRunStore(pool).Migrate(ctx); err != nil {
				return err
			}
			fmt.Println("Run tables are up to date.")
			return nil
		},
	}
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
