package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/acegrader/internal/blob"
	"github.com/pavelanni/acegrader/internal/config"
	"github.com/pavelanni/acegrader/internal/dispatch"
	"github.com/pavelanni/acegrader/internal/executor"
	"github.com/pavelanni/acegrader/internal/handler"
	"github.com/pavelanni/acegrader/internal/i18n"
	"github.com/pavelanni/acegrader/internal/llm"
	"github.com/pavelanni/acegrader/internal/llm/prompts"
	"github.com/pavelanni/acegrader/internal/metrics"
	"github.com/pavelanni/acegrader/internal/model"
	"github.com/pavelanni/acegrader/internal/pipeline"
	"github.com/pavelanni/acegrader/internal/report"
	"github.com/pavelanni/acegrader/internal/router"
	"github.com/pavelanni/acegrader/internal/scoring"
	"github.com/pavelanni/acegrader/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "acegrader",
		Short:        "Route, score and aggregate student assessment artifacts",
		SilenceUsage: true,
	}
	root.AddCommand(runCmd(), aggregateCmd(), workCmd(), validateConfigCmd(), serveCmd(), exportCmd())
	return root
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Score a CSV of submissions and write reports",
		RunE:  runRun,
	}
	f := cmd.Flags()
	f.StringP("input", "i", "", "Object key of the CSV in the ingestion bucket (required)")
	f.String("batch-id", "", "Batch identifier (default: taken from the CSV)")
	f.StringP("output", "o", "-", "Where to write the run summary JSON (- for stdout)")
	_ = cmd.MarkFlagRequired("input")
	scoringFlags(cmd)
	storageFlags(cmd)
	llmFlags(cmd)
	queueFlags(cmd)
	f.String("db", config.Default().DBPath, "SQLite database path (empty to skip)")
	f.StringP("lang", "l", config.Default().ReportLanguage, "Report document language (en, ru)")
	logFlags(cmd)
	return cmd
}

func aggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Rebuild batch reports from persisted results",
		RunE:  runAggregate,
	}
	f := cmd.Flags()
	f.String("batch-id", "", "Batch identifier (required)")
	f.StringP("output", "o", "-", "Where to write the batch report JSON (- for stdout)")
	_ = cmd.MarkFlagRequired("batch-id")
	scoringFlags(cmd)
	storageFlags(cmd)
	llmFlags(cmd)
	f.String("db", config.Default().DBPath, "SQLite database path (empty to skip)")
	f.StringP("lang", "l", config.Default().ReportLanguage, "Report document language (en, ru)")
	logFlags(cmd)
	return cmd
}

func workCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Consume processing tasks from an SQS queue",
		RunE:  runWork,
	}
	f := cmd.Flags()
	f.String("queue-url", "", "SQS queue URL to poll (required)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty to disable)")
	_ = cmd.MarkFlagRequired("queue-url")
	storageFlags(cmd)
	llmFlags(cmd)
	logFlags(cmd)
	return cmd
}

func validateConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Check an institution's routing configuration",
		RunE:  runValidateConfig,
	}
	cmd.Flags().String("institution", config.DefaultInstitutionID, "Institution identifier")
	storageFlags(cmd)
	logFlags(cmd)
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored batch results over HTTP",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", config.Default().DBPath, "SQLite database path")
	f.StringP("lang", "l", config.Default().ReportLanguage, "Fallback document language (en, ru)")
	logFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a stored batch as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", config.Default().DBPath, "SQLite database path")
	f.String("batch-id", "", "Batch identifier (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("batch-id")
	logFlags(cmd)
	return cmd
}

func scoringFlags(cmd *cobra.Command) {
	d := config.Default()
	f := cmd.Flags()
	for _, dim := range model.Dimensions {
		f.Float64("weight-"+string(dim), d.ACEWeights[dim], "ACE weight of the "+string(dim)+" dimension")
	}
	for _, t := range model.ArtifactTypes {
		f.Float64("artifact-weight-"+string(t), d.ArtifactWeights[t], "Contribution of "+string(t)+" artifacts to the dimension averages")
	}
	f.Float64("passing-threshold", d.PassingThreshold, "Overall score needed to pass")
	f.Float64("excellence-threshold", d.ExcellenceThreshold, "Overall score needed for excellence")
	f.Int("workers", d.Workers, "Concurrent scoring workers")
	f.Int("max-retries", d.MaxRetries, "Retry budget recorded on each task")
}

func storageFlags(cmd *cobra.Command) {
	d := config.Default()
	f := cmd.Flags()
	f.String("storage", d.Storage.Backend, "Blob storage backend (local, s3, minio)")
	f.String("storage-root", d.Storage.Root, "Root directory of the local backend")
	f.String("s3-region", "", "AWS region for S3 and SQS")
	f.String("storage-endpoint", "", "Custom S3 or MinIO endpoint")
	f.String("storage-access-key", "", "MinIO access key")
	f.String("storage-secret-key", "", "MinIO secret key")
	f.Bool("storage-ssl", false, "Use TLS for MinIO")
	f.String("ingestion-bucket", d.IngestionBucket, "Bucket holding uploaded CSV files")
	f.String("results-bucket", d.ResultsBucket, "Bucket for results and reports")
	f.String("config-bucket", d.ConfigBucket, "Bucket holding institution configs")
	f.Duration("config-ttl", d.ConfigCacheTTL, "How long institution configs are cached")
}

func llmFlags(cmd *cobra.Command) {
	d := config.Default().LLM
	f := cmd.Flags()
	f.String("llm-url", d.BaseURL, "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for LLM (AI scoring is disabled without one)")
	f.String("llm-model", d.Model, "LLM model name")
	f.Float64("llm-temperature", float64(d.Temperature), "Sampling temperature")
	f.Int("llm-max-tokens", d.MaxTokens, "Completion token limit")
	f.Duration("llm-timeout", d.Timeout, "Timeout of a single LLM call")
	f.String("transcription-model", d.TranscriptionModel, "Speech-to-text model")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
}

func queueFlags(cmd *cobra.Command) {
	for _, t := range model.ArtifactTypes {
		cmd.Flags().String("queue-"+string(t), "", "SQS queue URL for "+string(t)+" tasks (empty runs them in-process)")
	}
}

func logFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	default:
		logHandler = tint.NewHandler(os.Stderr, &tint.Options{Level: logLevel, TimeFormat: time.TimeOnly})
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ACEGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("acegrader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/acegrader")
	v.AddConfigPath("/etc/acegrader")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// app holds the components shared by run and aggregate.
type app struct {
	settings config.Settings
	pipeline *pipeline.Pipeline
	llm      *llm.Client
	db       *store.Store
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

func newApp(ctx context.Context, s config.Settings, rec *metrics.Recorder) (*app, error) {
	blobs, err := blob.Open(ctx, s.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	loader := config.NewLoader(blobs, s.ConfigBucket, s.ConfigCacheTTL)
	client := llm.New(s.LLM)

	a := &app{settings: s, llm: client}
	deps := pipeline.Deps{
		Blobs:    blobs,
		Configs:  loader,
		Router:   router.New(loader, s.MaxRetries, router.WithQueues(s.Queues)),
		Executor: executor.New(strategies(client, blobs), rec),
		Narrator: client,
		Metrics:  rec,
	}

	tr, err := i18n.New(s.ReportLanguage)
	if err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	if deps.Renderer, err = report.NewTextRenderer(tr, s.ReportLanguage); err != nil {
		return nil, err
	}

	if len(s.Queues) > 0 {
		api, err := dispatch.NewClient(ctx, s.Storage.Region)
		if err != nil {
			return nil, err
		}
		deps.Sender = dispatch.NewSender(api, rec)
	}
	if s.DBPath != "" {
		if a.db, err = store.New(s.DBPath); err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		deps.Archive = a.db
	}
	a.pipeline = pipeline.New(s, deps)
	return a, nil
}

func strategies(client *llm.Client, blobs blob.Store) scoring.Table {
	return scoring.Table{
		MCQ:  scoring.MCQ{},
		Text: scoring.Text{Evaluator: client},
		Audio: scoring.Audio{
			Evaluator:   client,
			Transcriber: client,
			Fetcher:     blob.NewFetcher(blobs),
			ModelName:   client.TranscriptionModel(),
		},
	}
}

func settingsFor(cmd *cobra.Command) config.Settings {
	v := viperForCmd(cmd)
	s := config.FromViper(v)
	if cmd.Flags().Changed("db") {
		// An explicit empty path disables the archive.
		s.DBPath = v.GetString("db")
	}
	return s
}

func runRun(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	s := settingsFor(cmd)
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, s, metrics.New())
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.pipeline.Run(ctx, v.GetString("input"), v.GetString("batch-id"))
	if err != nil {
		return err
	}
	return writeJSON(v.GetString("output"), sum)
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	s := settingsFor(cmd)
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, s, metrics.New())
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.pipeline.Aggregate(ctx, v.GetString("batch-id"))
	if err != nil {
		return err
	}
	return writeJSON(v.GetString("output"), rep)
}

func runWork(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	s := config.FromViper(v)
	s.DBPath = ""
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	rec := metrics.New()
	if addr := v.GetString("metrics-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: rec.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	a, err := newApp(ctx, s, rec)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.llm.Ping(ctx); err != nil {
		slog.Warn("LLM not reachable, text and audio tasks will get fallback scores", "error", err)
	}

	api, err := dispatch.NewClient(ctx, s.Storage.Region)
	if err != nil {
		return err
	}
	return a.pipeline.Work(ctx, dispatch.NewReceiver(api, v.GetString("queue-url")))
}

func runValidateConfig(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	s := config.FromViper(v)
	ctx := cmd.Context()

	blobs, err := blob.Open(ctx, s.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	loader := config.NewLoader(blobs, s.ConfigBucket, s.ConfigCacheTTL)

	id := v.GetString("institution")
	var inst model.InstitutionConfig
	if id == "" || id == config.DefaultInstitutionID {
		inst, err = loader.DefaultInstitution(ctx)
		if errors.Is(err, config.ErrNoInstitution) {
			slog.Info("no stored default institution, checking built-in defaults")
			inst, err = config.DefaultInstitution(s), nil
		}
	} else {
		inst, err = loader.Institution(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("load institution %q: %w", id, err)
	}

	issues := router.ValidateInstitution(inst)
	out := cmd.OutOrStdout()
	if len(issues) == 0 {
		fmt.Fprintf(out, "%s: configuration is valid\n", inst.InstitutionID)
		return nil
	}
	for _, is := range issues {
		fmt.Fprintf(out, "%s: %s\n", inst.InstitutionID, is)
	}
	return fmt.Errorf("%d configuration issues", len(issues))
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	tr, err := i18n.New(lang)
	if err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	renderer, err := report.NewTextRenderer(tr, lang)
	if err != nil {
		return err
	}
	rec := metrics.New()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	handler.New(db, renderer, tr, rec.Handler()).Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server", "addr", addr, "db", v.GetString("db"), "lang", lang)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	exp, err := db.ExportBatch(v.GetString("batch-id"))
	if err != nil {
		return fmt.Errorf("export batch: %w", err)
	}
	return writeJSON(v.GetString("output"), exp)
}

// writeJSON writes v as indented JSON to path, or stdout for "" and "-".
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if path == "" || path == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}
