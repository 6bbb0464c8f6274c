package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/barasher/go-exiftool"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/acm19/picbatch/apps/cli/completion"
	"github.com/acm19/picbatch/internal/actionlog"
	"github.com/acm19/picbatch/internal/config"
	"github.com/acm19/picbatch/internal/convert"
	"github.com/acm19/picbatch/internal/logger"
	"github.com/acm19/picbatch/internal/server"
)

// version is set at build time via -ldflags.
var version = "dev"

// lockFileName guards an output directory against concurrent convert runs.
const lockFileName = ".picbatch.lock"

var rootCmd = &cobra.Command{
	Use:     "picbatch",
	Short:   "Batch image converter",
	Long:    `Picbatch converts batches of images into size-bounded WebP files and packages them into a single archive.`,
	Version: version,
}

var convertCmd = &cobra.Command{
	Use:   "convert PATH...",
	Short: "Convert a batch of images",
	Long: `Converts up to the configured number of images, writes the outputs into the output directory and optionally an archive of all of them.

Directories are walked recursively for image files; dot files and dot directories are skipped.`,
	Args:  cobra.MinimumNArgs(1),
	Run:   runConvert,
}

var validateCmd = &cobra.Command{
	Use:   "validate PATH...",
	Short: "Check files against the allowed content types",
	Args:  cobra.MinimumNArgs(1),
	Run:   runValidate,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the conversion API over HTTP",
	Args:  cobra.NoArgs,
	Run:   runServe,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config [PATH]",
	Short: "Write a sample configuration file",
	Args:  cobra.MaximumNArgs(1),
	Run:   runInitConfig,
}

var (
	configPath    string
	outDir        string
	writeArchive  bool
	archiveFormat string
	maxSizeMB     float64
	maxDimension  int
	quality       float64
	serveAddr     string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is $XDG_CONFIG_HOME/picbatch/config.toml)")

	// Convert command flags
	convertCmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	convertCmd.Flags().BoolVarP(&writeArchive, "archive", "a", false, "Also write an archive of all outputs")
	convertCmd.Flags().StringVar(&archiveFormat, "archive-format", "", "Archive format (zip or tar.gz)")
	convertCmd.Flags().Float64Var(&maxSizeMB, "max-size-mb", 0, "Target maximum output size in MB")
	convertCmd.Flags().IntVar(&maxDimension, "max-dimension", 0, "Maximum width or height in pixels")
	convertCmd.Flags().Float64VarP(&quality, "quality", "q", 0, "Initial quality (0-1]")

	// Serve command flags
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")

	rootCmd.AddCommand(convertCmd, validateCmd, serveCmd, initConfigCmd)
	rootCmd.AddCommand(completion.NewCommands(rootCmd)...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// mustLoadConfig loads the config and reconfigures the logger from it.
func mustLoadConfig() *config.Config {
	cfg, path, exists, err := config.Load(configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	level := cfg.Logging.Level
	if os.Getenv("DEBUG") != "" {
		level = "debug"
	}
	logger.Configure(level, cfg.Logging.Format, os.Stderr)
	logger.Debug("Config loaded", "path", path, "exists", exists)
	return cfg
}

// components are the collaborators shared by convert and serve.
type components struct {
	coord     *convert.Coordinator
	validator convert.Validator
	actions   *actionlog.Logger
	close     func()
}

func buildComponents(ctx context.Context, cfg *config.Config, opts convert.Options) (*components, error) {
	st, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	closers := []func(){}
	codec := convert.NewImageCodec()
	var validator convert.Validator
	if cfg.Batch.ValidateContent {
		validator = convert.NewContentValidator(codec)
		if cfg.Tools.Exiftool {
			et, err := exiftool.NewExiftool()
			if err != nil {
				return nil, fmt.Errorf("failed to initialise exiftool: %w", err)
			}
			closers = append(closers, func() { et.Close() })
			validator = convert.NewExiftoolValidator(et, codec)
		}
	}

	actions := actionlog.New(cfg.Server.ActionLogURL)
	closers = append(closers, actions.Wait)

	coord, err := convert.NewCoordinator(opts, convert.Dependencies{
		Codec:     codec,
		Store:     st,
		Validator: validator,
		Observer:  actions,
	})
	if err != nil {
		return nil, err
	}

	return &components{
		coord:     coord,
		validator: validator,
		actions:   actions,
		close: func() {
			for _, c := range closers {
				c()
			}
		},
	}, nil
}

func runConvert(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := cfg.ConvertOptions()
	if err != nil {
		logger.Error("Invalid batch options", "error", err)
		os.Exit(1)
	}
	opts, err = applyOverrides(opts, overridesFromFlags(cmd))
	if err != nil {
		logger.Error("Invalid flags", "error", err)
		os.Exit(1)
	}

	paths, err := expandPaths(args)
	if err != nil {
		logger.Error("Invalid input", "error", err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		logger.Error("No image files found", "paths", args)
		os.Exit(1)
	}

	report, err := convertFiles(ctx, cfg, opts, paths)
	if err != nil {
		logger.Error("Conversion failed", "error", err)
		os.Exit(1)
	}
	if report.Failed > 0 || len(report.Rejected) > 0 {
		os.Exit(1)
	}
}

// convertFiles runs one batch over paths and writes its outputs into outDir.
func convertFiles(ctx context.Context, cfg *config.Config, opts convert.Options, paths []string) (convert.Report, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return convert.Report{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	lock := flock.New(filepath.Join(outDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return convert.Report{}, fmt.Errorf("failed to lock output directory: %w", err)
	}
	if !locked {
		return convert.Report{}, fmt.Errorf("output directory %s is in use by another picbatch run", outDir)
	}
	defer lock.Unlock()

	items, err := readSourceItems(paths, opts.MaxItemBytes)
	if err != nil {
		return convert.Report{}, err
	}

	progress := make(chan convert.ProgressEvent, 4*len(items)+1)
	opts.ProgressChan = progress
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range progress {
			logger.Debug(ev.Message, "stage", ev.Stage, "current", ev.Current, "total", ev.Total)
		}
	}()
	defer func() {
		close(progress)
		<-done
	}()

	comps, err := buildComponents(ctx, cfg, opts)
	if err != nil {
		return convert.Report{}, fmt.Errorf("failed to initialise: %w", err)
	}
	defer comps.close()
	defer func() {
		if err := comps.coord.Discard(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release outputs", "error", err)
		}
	}()

	logger.Info("Starting conversion", "files", len(items), "output", outDir)
	report := comps.coord.Submit(ctx, items)

	written, err := writeOutputs(ctx, comps.coord, outDir)
	if err != nil {
		return report, fmt.Errorf("failed to write outputs: %w", err)
	}

	if writeArchive {
		archivePath, err := writeArchiveFile(ctx, comps.coord, outDir)
		if err != nil {
			return report, fmt.Errorf("failed to write archive: %w", err)
		}
		comps.actions.Log(ctx, actionlog.ActionDownloadArchive)
		logger.Info("Archive written", "path", archivePath)
	}

	fmt.Fprintln(os.Stdout, renderReport(report, comps.coord.Results(), shouldColorize(os.Stdout)))
	for _, w := range report.Warnings() {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}

	logger.Info("Conversion finished", "written", len(written), "failed", report.Failed, "rejected", len(report.Rejected), "duration", report.Duration)
	return report, nil
}

func runValidate(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	ctx := context.Background()

	codec := convert.NewImageCodec()
	validator := convert.NewContentValidator(codec)
	if cfg.Tools.Exiftool {
		et, err := exiftool.NewExiftool()
		if err != nil {
			logger.Error("Failed to initialise exiftool", "error", err)
			os.Exit(1)
		}
		defer et.Close()
		validator = convert.NewExiftoolValidator(et, codec)
	}

	paths, err := expandPaths(args)
	if err != nil {
		logger.Error("Invalid input", "error", err)
		os.Exit(1)
	}
	rows, rejected, err := validateFiles(ctx, validator, paths)
	if err != nil {
		logger.Error("Validation failed", "error", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stdout, renderTable([]string{"File", "Allowed", "Type", "Reason"}, rows, nil))
	if rejected > 0 {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := cfg.ConvertOptions()
	if err != nil {
		logger.Error("Invalid batch options", "error", err)
		os.Exit(1)
	}
	comps, err := buildComponents(ctx, cfg, opts)
	if err != nil {
		logger.Error("Failed to initialise", "error", err)
		os.Exit(1)
	}
	defer comps.close()

	if cfg.Logging.Level != "debug" && os.Getenv("DEBUG") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	router := server.NewRouter(comps.coord, comps.validator, comps.actions)
	if err := server.Run(ctx, addr, router); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	if err := comps.coord.Discard(context.Background()); err != nil {
		logger.Warn("Failed to release outputs", "error", err)
	}
}

func runInitConfig(cmd *cobra.Command, args []string) {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		defaultPath, err := config.DefaultConfigPath()
		if err != nil {
			logger.Error("Failed to resolve config path", "error", err)
			os.Exit(1)
		}
		path = defaultPath
	}

	if err := config.CreateSample(path); err != nil {
		logger.Error("Failed to write sample config", "error", err)
		os.Exit(1)
	}
	logger.Info("Sample config written", "path", path)
}
