package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"dictate/internal/app"
	"dictate/internal/asr"
	"dictate/internal/config"
	"dictate/internal/logging"
)

const (
	exitOK     = 0
	exitSetup  = 1
	exitUpload = 3
)

// defaultConfigFiles are probed in the working directory when -config is absent.
var defaultConfigFiles = []string{"config.yaml", "config.yml", "config.json"}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("dictate", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (yaml or json)")
	filePath := fs.String("file", "", "transcribe an existing audio file instead of serving")
	outputPath := fs.String("output", "", "transcript output path for -file (default <name>.txt)")
	initConfig := fs.String("init-config", "", "write a default config to the given path and exit")
	pending := fs.Bool("pending", false, "list recordings awaiting recovery")
	recoverID := fs.String("recover", "", "move a pending recording into history")
	discardID := fs.String("discard", "", "delete a pending recording")
	fv := config.BindFlags(fs)
	fs.Usage = func() { usage(fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitSetup
	}

	if *initConfig != "" {
		if err := config.SaveDefault(*initConfig); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write default config: %v\n", err)
			return exitSetup
		}
		fmt.Printf("default config created at %s\n", *initConfig)
		return exitOK
	}

	cfg, created, err := resolveConfig(*configPath, fs.NFlag() == 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitSetup
	}
	if created != "" {
		fmt.Printf("default config created at %s. Please edit it and re-run.\n", created)
		return exitOK
	}
	config.ApplyEnv(&cfg)
	config.ApplyFlags(&cfg, fv)
	if err := config.Validate(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return exitSetup
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return exitSetup
	}
	defer func() { _ = logger.Sync() }()

	if err := config.InitCacheDir(&cfg); err != nil {
		logger.Warn("cache dir unusable, falling back to system temp", zap.Error(err))
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return exitSetup
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *pending:
		if err := a.ListPending(os.Stdout); err != nil {
			logger.Error("list pending failed", zap.Error(err))
			return exitSetup
		}
	case *recoverID != "":
		entry, err := a.Recover(*recoverID)
		if err != nil {
			logger.Error("recover failed", zap.String("id", *recoverID), zap.Error(err))
			return exitSetup
		}
		fmt.Printf("recovered %s into history\n", entry.ID)
	case *discardID != "":
		if err := a.Discard(*discardID); err != nil {
			logger.Error("discard failed", zap.String("id", *discardID), zap.Error(err))
			return exitSetup
		}
	case *filePath != "":
		out, err := a.RunFileMode(ctx, *filePath, *outputPath)
		if err != nil {
			logger.Error("file mode failed", zap.String("file", *filePath), zap.Error(err))
			var upErr *asr.UploadError
			if errors.As(err, &upErr) {
				return exitUpload
			}
			return exitSetup
		}
		fmt.Println(out)
	default:
		if err := a.RunServe(ctx); err != nil {
			logger.Error("serve failed", zap.Error(err))
			return exitSetup
		}
	}
	return exitOK
}

// resolveConfig loads the explicit config file, else the first default file
// found in the working directory. With no file and no flags it writes a
// default config.yaml and reports its path.
func resolveConfig(path string, noFlags bool) (config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return cfg, "", fmt.Errorf("failed to load config '%s': %w", path, err)
		}
		return cfg, "", nil
	}
	for _, name := range defaultConfigFiles {
		_, err := os.Stat(name)
		if err == nil {
			cfg, err := config.Load(name)
			if err != nil {
				return cfg, "", fmt.Errorf("failed to load existing %s: %w", name, err)
			}
			return cfg, "", nil
		}
		if !os.IsNotExist(err) {
			return config.DefaultConfig(), "", fmt.Errorf("failed to stat %s: %w", name, err)
		}
	}
	if noFlags {
		name := defaultConfigFiles[0]
		if err := config.SaveDefault(name); err != nil {
			return config.DefaultConfig(), "", fmt.Errorf("failed to write default config: %w", err)
		}
		return config.DefaultConfig(), name, nil
	}
	return config.DefaultConfig(), "", nil
}

func usage(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintf(out, "Usage: %s [flags]\n\n", fs.Name())
	fmt.Fprintln(out, "Without -file, -pending, -recover or -discard the control API is served and")
	fmt.Fprintln(out, "captures are started and stopped through it.")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Config is read from -config, else ./config.yaml, ./config.yml or ./config.json.")
	fmt.Fprintln(out, "API keys fall back to OPENAI_API_KEY, GROQ_API_KEY and GEMINI_API_KEY (a .env file is loaded).")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Flags:")
	fs.PrintDefaults()
}
