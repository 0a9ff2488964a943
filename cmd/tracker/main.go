package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/diagnostiq/tracker/internal/history"
	"github.com/diagnostiq/tracker/internal/log"
	"github.com/diagnostiq/tracker/internal/model"
	"github.com/diagnostiq/tracker/internal/parallel"
	"github.com/diagnostiq/tracker/internal/remote"
	"github.com/diagnostiq/tracker/internal/track"
	"github.com/diagnostiq/tracker/internal/view"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	userConfigPath string // /default/config/path/tracker on given OS
	configPath     string // actual config file used (if loaded)
	config         *model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagForce          bool
	flagListen         string
	flagQuery          string
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "tracker")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is tracker.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	submitCmd.Flags().BoolVar(&flagForce, "force", false, "process even when flagged as a duplicate")
	runCmd.Flags().StringVar(&flagListen, "listen", "", "serve the read-only viewer API on this address")
	watchCmd.Flags().StringVar(&flagListen, "listen", "", "serve the read-only viewer API on this address")
	diagnoseCmd.Flags().StringVar(&flagQuery, "query", "", "custom query passed to the diagnostic function")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initTracker

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("tracker failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "tracker",
	Short:        "Tool submitting artifacts for remote analysis and tracking the jobs to completion",
	SilenceUsage: true,
}

var submitCmd = &cobra.Command{
	Use:   "submit file [file...]",
	Short: "submit files for analysis and track each job until it finishes",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doSubmit,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run a diagnostics workload, once or on the configured schedule",
	RunE:  doRun,
}

var watchCmd = &cobra.Command{
	Use:   "watch jobID",
	Short: "watch an existing job without advancing it",
	Args:  cobra.ExactArgs(1),
	RunE:  doWatch,
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose function",
	Short: "run one remote diagnostic function",
	Args:  cobra.ExactArgs(1),
	RunE:  doDiagnose,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of a tracker",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("tracker: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:  %s\n", configPath)
		}
		fmt.Printf("tracker: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

// submitLimit caps how many jobs one submit invocation tracks at once.
const submitLimit = 4

func doSubmit(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := buildClient()
	if err != nil {
		return err
	}
	opts, err := sessionOptions()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(userConfigPath, 0755); err != nil {
		return err
	}
	db, err := history.InitDB(ctx, filepath.Join(userConfigPath, "tracker.db"))
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	past, err := history.All(ctx, db)
	if err != nil {
		return err
	}

	batch := make([]model.Submission, 0, len(args))
	batchKey := uuid.NewString()
	for _, path := range args {
		sub, err := buildSubmission(path, batchKey)
		if err != nil {
			return err
		}
		batch = append(batch, sub)
	}

	type outcome struct {
		report   track.Report
		accepted bool
	}

	submitOne := func(ctx context.Context, sub model.Submission) (outcome, error) {
		ctx = log.WithJob(ctx, sub.ID)
		session := track.NewSession(client, opts...)
		defer session.Close()

		verdict, err := session.Submit(ctx, sub, past, batch)
		if err != nil {
			return outcome{}, fmt.Errorf("submitting %s: %w", sub.Name, err)
		}
		if verdict.Duplicate() {
			slog.WarnContext(ctx, "submission flagged, use --force to process anyway",
				"name", sub.Name,
				"verdict", verdict.String(),
			)
			return outcome{}, nil
		}
		if err := history.Record(ctx, db, sub); err != nil {
			return outcome{}, fmt.Errorf("recording %s: %w", sub.Name, err)
		}

		select {
		case <-session.Done():
		case <-ctx.Done():
			return outcome{}, ctx.Err()
		}

		if err := history.Finish(ctx, db, sub.ID, session.State().Kind.String()); err != nil {
			slog.WarnContext(ctx, "storing terminal state failed", "err", err)
		}
		return outcome{report: session.Report(), accepted: true}, nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	var firstErr error
	pmap := parallel.NewMap(ctx, submitLimit, submitOne)
	for out, err := range pmap.Iter(all(batch)) {
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !out.accepted {
			continue
		}
		if err := enc.Encode(out.report); err != nil {
			return err
		}
	}
	return firstErr
}

func all[T any](s []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, x := range s {
			if !yield(x, nil) {
				return
			}
		}
	}
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := buildClient()
	if err != nil {
		return err
	}
	opts, err := sessionOptions()
	if err != nil {
		return err
	}

	registry := view.NewRegistry()
	shutdownViewer, err := startViewer(ctx, registry)
	if err != nil {
		return err
	}
	defer shutdownViewer()

	task := func() error {
		session := track.NewSession(client, opts...)
		defer session.Close()

		key := uuid.NewString()
		registry.Add(key, session)

		runCtx := log.WithWorkload(ctx, key)
		if err := session.RunWorkload(runCtx); err != nil {
			return err
		}
		slog.InfoContext(runCtx, "workload finished",
			"workload", session.Workload().ID,
			"state", session.State().String(),
		)
		return nil
	}

	switch config.Service.Mode {
	case model.ServiceModeManual:
		return task()
	case model.ServiceModeTimer:
		sched, err := track.NewScheduler(*config.Service.Schedule, func() {
			if err := task(); err != nil {
				slog.ErrorContext(ctx, "scheduled workload failed", "err", err)
			}
		})
		if err != nil {
			return err
		}
		sched.Start()
		<-ctx.Done()
		return sched.Shutdown()
	default:
		return fmt.Errorf("unsupported service mode %q", config.Service.Mode)
	}
}

func doWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobID := args[0]
	client, err := buildClient()
	if err != nil {
		return err
	}
	opts, err := sessionOptions()
	if err != nil {
		return err
	}

	registry := view.NewRegistry()
	shutdownViewer, err := startViewer(ctx, registry)
	if err != nil {
		return err
	}
	defer shutdownViewer()

	session := track.NewSession(client, opts...)
	defer session.Close()
	registry.Add(jobID, session)

	ctx = log.WithJob(ctx, jobID)
	if err := session.Watch(ctx, jobID); err != nil {
		return fmt.Errorf("watching job %s: %w", jobID, err)
	}

	select {
	case <-session.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(session.Report())
}

func doDiagnose(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := buildClient()
	if err != nil {
		return err
	}

	resp, err := client.Diagnose(ctx, remote.DiagnoseRequest{
		FunctionName: args[0],
		CustomQuery:  flagQuery,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func initTracker(cmd *cobra.Command, _ []string) error {
	// .env is optional, real environment wins over it
	_ = godotenv.Load()

	if envConfig, ok := os.LookupEnv("TRACKERCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "tracker.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		def := model.DefaultConfig()
		config = &def
		configPath = filepath.Join(userConfigPath, "tracker.yaml")
		err := os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		if err := enc.Encode(config); err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			var cfgErr *model.ConfigError
			if errors.As(err, &cfgErr) {
				for _, d := range cfgErr.Details() {
					slog.LogAttrs(cmd.Context(), slog.LevelError, "invalid configuration", d.Attr("detail"))
				}
			}
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	// --verbose has a precedence over config file
	verbose := flagVerbose
	if config.Service.Verbose != nil && *config.Service.Verbose {
		verbose = true
	}

	// initialize logging
	dst := ""
	if config.Service.Log != nil {
		dst = *config.Service.Log
	}
	w, _, err := log.Output(dst)
	if err != nil {
		return err
	}
	slog.SetDefault(log.New(w, verbose))

	// remote endpoint settings flow through viper so single keys can be
	// overridden without touching the config file
	viper.SetDefault("remote.url", config.Remote.URL)
	viper.SetDefault("remote.token", config.Remote.Auth.Token)
	if config.Remote.Timeout != nil {
		d, err := time.ParseDuration(*config.Remote.Timeout)
		if err != nil {
			return fmt.Errorf("parsing remote.timeout: %w", err)
		}
		viper.SetDefault("remote.timeout", d)
	}

	slog.Debug("tracker run", "configPath", configPath)
	slog.Debug("tracker run", "config", config)
	return nil
}

func buildClient() (*remote.Client, error) {
	cfg, err := remote.ParseConfig("remote")
	if err != nil {
		return nil, fmt.Errorf("parsing remote settings: %w", err)
	}
	return cfg.Client()
}

func sessionOptions() ([]track.SessionOption, error) {
	var opts []track.SessionOption
	if config.Tracking == nil {
		return opts, nil
	}
	if config.Tracking.PollInterval != nil {
		d, err := time.ParseDuration(*config.Tracking.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("parsing tracking.pollInterval: %w", err)
		}
		opts = append(opts, track.WithPollInterval(d))
	}
	if config.Tracking.StepDelay != nil {
		d, err := time.ParseDuration(*config.Tracking.StepDelay)
		if err != nil {
			return nil, fmt.Errorf("parsing tracking.stepDelay: %w", err)
		}
		opts = append(opts, track.WithStepPause(d))
	}
	return opts, nil
}

// startViewer serves the read-only API when an address is configured,
// via --listen or the viewer config section. Returns a shutdown func;
// a no-op one when the viewer is disabled.
func startViewer(ctx context.Context, registry *view.Registry) (func(), error) {
	addr := flagListen
	if addr == "" && config.Viewer != nil {
		enabled := config.Viewer.Enabled == nil || *config.Viewer.Enabled
		if enabled && config.Viewer.Listen != nil {
			addr = *config.Viewer.Listen
		}
	}
	if addr == "" {
		return func() {}, nil
	}

	srv := &http.Server{
		Addr:        addr,
		Handler:     view.NewHandler(registry),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		slog.InfoContext(ctx, "viewer listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "viewer server failed", "err", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("viewer shutdown", "err", err)
		}
	}, nil
}

// maxSubmissionSize caps what a single submit call will read and hash.
const maxSubmissionSize = 32 << 20

func buildSubmission(path, batchKey string) (model.Submission, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.Submission{}, fmt.Errorf("inspecting %s: %w", path, err)
	}
	if info.Size() > maxSubmissionSize {
		return model.Submission{}, fmt.Errorf("%s: %w", path, model.ErrTooBig)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Submission{}, fmt.Errorf("reading %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return model.Submission{
		ID:       uuid.NewString(),
		Name:     filepath.Base(path),
		Digest:   hex.EncodeToString(sum[:]),
		Kind:     "analysis",
		Force:    flagForce,
		BatchKey: batchKey,
	}, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
