package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/pprof"

	"github.com/charmbracelet/fang"
	charmlog "github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"bbtrace/internal/bbtrace/log"
	"bbtrace/internal/config"
	"bbtrace/internal/store"
)

func init() {
	rootCmd.PersistentFlags().StringP("redis", "R", "", "Redis server URL (default "+config.DefaultRedisURL+")")
	rootCmd.PersistentFlags().StringP("config", "C", "", "JSON configuration file")
	rootCmd.PersistentFlags().StringP("list", "l", "", "Source list to read")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("cpuprofile", "", "Write CPU profile to file")

	rootCmd.AddCommand(showCmd, cacheCmd)
}

var rootCmd = &cobra.Command{
	Use:   "bbtrace",
	Short: "Inspect basic block traces stored in Redis",
	Long: `bbtrace reads basic block records captured by a tracer from Redis lists.
It prints filtered disassembly listings and collects one sample of every
distinct instruction form seen in a trace.`,
	Example: `
# Show every 64-bit user mode block that contains a syscall
bbtrace show -m 64-bit -r user -p syscall

# Start listing at record 5000
bbtrace show -g 5000

# Collect distinct instruction forms, keeping what an earlier run stored
bbtrace cache --resume
  `,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		settings = cfg
		logger = log.Setup(cfg.Debug)

		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile == "" {
			return nil
		}
		f, err := os.Create(cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %v", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("could not start CPU profile: %v", err)
		}
		profileFile = f
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return stopProfile()
	},
}

var (
	settings    config.Config
	logger      *charmlog.Logger
	profileFile *os.File
)

// stopProfile ends a CPU profile started by --cpuprofile. Cobra skips
// PersistentPostRunE when RunE fails, so fail calls it too.
func stopProfile() error {
	if profileFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := profileFile.Close()
	profileFile = nil
	return err
}

// loadConfig resolves the configuration for cmd: defaults, the --config
// file, the environment, then explicitly set flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("redis") {
		cfg.RedisURL, _ = cmd.Flags().GetString("redis")
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug, _ = cmd.Flags().GetBool("debug")
	}
	return cfg, cfg.Validate()
}

// sourceList returns --list when set, otherwise fallback.
func sourceList(cmd *cobra.Command, fallback string) string {
	if cmd.Flags().Changed("list") {
		if name, _ := cmd.Flags().GetString("list"); name != "" {
			return name
		}
	}
	return fallback
}

// openBackend connects to the store named by cfg. Tests replace it.
var openBackend = func(ctx context.Context, cfg config.Config) (store.Backend, error) {
	return store.NewRedis(ctx, cfg.RedisURL)
}

// commandLogger returns the process logger tagged with the command name.
func commandLogger(cmd *cobra.Command) *charmlog.Logger {
	if logger == nil {
		return charmlog.New(io.Discard)
	}
	return logger.With("cmd", cmd.Name())
}

func isTerminal() bool {
	return term.IsTerminal(os.Stdout.Fd())
}

func terminalWidth() int {
	w, _, err := term.GetSize(os.Stdout.Fd())
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func Execute() {
	// Piped output is consumed by other tools, so skip fang's styling
	if !isTerminal() {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		err := rootCmd.ExecuteContext(ctx)
		stop()
		if err != nil {
			fail(err)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		fail(err)
	}
}

func fail(err error) {
	if log.Initialized() {
		slog.Debug("command failed", "error", err)
	}
	if perr := stopProfile(); perr != nil {
		fmt.Fprintf(os.Stderr, "could not close CPU profile: %v\n", perr)
	}
	log.Close()
	os.Exit(1)
}
