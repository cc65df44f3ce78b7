// Package main is the entry point for the cortexmind CLI.
// cortexmind routes an input to a set of reasoning modules, fuses their answers
// and keeps adaptive routing state between runs in a local state bundle.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/normanking/cortexmind/internal/config"
	"github.com/normanking/cortexmind/internal/logging"
	"github.com/normanking/cortexmind/internal/orchestrator"
	"github.com/normanking/cortexmind/internal/router"
	"github.com/normanking/cortexmind/pkg/brain"
)

var (
	version   = "0.1.0"
	cfgPath   string
	statePath string
	verbose   bool
	seed      int64
	noColor   bool
	log       *logging.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cortexmind",
		Short: "cortexmind - ensemble reasoning engine",
		Long: `cortexmind sends each input to a spiking network, an amplitude sampler,
a feed-forward learner and a symbolic agent, then fuses their answers by
confidence-weighted voting.

Process an input:   cortexmind process --task pattern_recognition "1,1,2,3,5,8"
Teach a pair:       cortexmind learn "0,1,0,..." "1,0,..."
Adapt routing:      cortexmind optimize
Inspect:            cortexmind status

State is kept in a bundle (default ~/.cortexmind/state.db). The bundle carries
the configuration it was created with; remove it to start over with a new one.`,
		PersistentPreRunE: initLogging,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.cortexmind/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "state bundle path (default ~/.cortexmind/state.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 0, "global random seed (overrides rng.seed)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable styled output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cortexmind v%s\n", version)
		},
	})
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(learnCmd())
	rootCmd.AddCommand(optimizeCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(configCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func initLogging(cmd *cobra.Command, args []string) error {
	if noColor || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	cfg := logging.DefaultConfig()
	cfg.Level = logging.LevelWarn
	if verbose {
		cfg.Level = logging.LevelDebug
	}
	log = logging.New(cfg)
	logging.SetGlobal(log)

	if verbose {
		log.Debug("config path: %s", getConfigPath())
		log.Debug("state path: %s", getStatePath())
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE LIFECYCLE
// ═══════════════════════════════════════════════════════════════════════════════

func getConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	path, err := config.DefaultPath()
	if err != nil {
		return filepath.Join(".", ".cortexmind", "config.yaml")
	}
	return path
}

func getStatePath() string {
	if statePath != "" {
		return statePath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cortexmind", "state.db")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadFromPath(getConfigPath())
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("seed") {
		cfg.RNG.Seed = &seed
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openEngine builds the engine from config and loads the state bundle when
// one exists. The returned cleanup closes the engine.
func openEngine(cmd *cobra.Command) (*orchestrator.Engine, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Logging.File != "" && !verbose {
		lc := logging.DefaultConfig()
		lc.Level = logging.ParseLevel(cfg.Logging.Level)
		lc.FilePath = cfg.Logging.File
		log = logging.New(lc)
		logging.SetGlobal(log)
	}

	engine, err := orchestrator.New(cfg, orchestrator.WithLogger(log.WithComponent("orchestrator")))
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := engine.Close(); err != nil {
			log.Warn("close engine: %v", err)
		}
	}

	path := getStatePath()
	if _, err := os.Stat(path); err == nil {
		if err := engine.LoadState(cmd.Context(), path); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("load state %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		cleanup()
		return nil, nil, fmt.Errorf("stat state %s: %w", path, err)
	}
	return engine, cleanup, nil
}

func saveEngine(cmd *cobra.Command, engine *orchestrator.Engine) error {
	return engine.SaveState(cmd.Context(), getStatePath())
}

// parsePayload joins args into a text payload, or parses them as numbers
// when asVector is set.
func parsePayload(args []string, asVector bool) (brain.Payload, error) {
	text := strings.Join(args, " ")
	if !asVector {
		return brain.Text(text), nil
	}
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return brain.Payload{}, fmt.Errorf("%w: empty vector", brain.ErrInvalidInput)
	}
	vec := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return brain.Payload{}, fmt.Errorf("%w: %q is not a number", brain.ErrInvalidInput, f)
		}
		vec[i] = v
	}
	return brain.Vector(vec), nil
}

func parseTask(s string) (router.TaskType, error) {
	t := router.TaskType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() && t != router.TaskSimulation {
		names := make([]string, 0, len(router.AllTaskTypes()))
		for _, tt := range router.AllTaskTypes() {
			names = append(names, tt.String())
		}
		return "", fmt.Errorf("unknown task %q (one of: %s)", s, strings.Join(names, ", "))
	}
	return t, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func processCmd() *cobra.Command {
	var (
		task     string
		asVector bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "process [payload]",
		Short: "Process an input through the routed modules",
		Long: `Process an input and print the fused answer.

Examples:
  cortexmind process --task pattern_recognition "1,1,2,3,5,8"
  cortexmind process --task decision_making "walk | cycle | drive"
  cortexmind process --task optimization --vector 0.2 0.9 -0.4`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tt, err := parseTask(task)
			if err != nil {
				return err
			}
			payload, err := parsePayload(args, asVector)
			if err != nil {
				return err
			}

			engine, cleanup, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			fused, procErr := engine.Process(cmd.Context(), payload, tt)
			if fused != nil {
				if err := printFused(fused, asJSON); err != nil {
					return err
				}
			}
			if fused != nil || procErr == nil {
				if err := saveEngine(cmd, engine); err != nil {
					return err
				}
			}
			return procErr
		},
	}
	cmd.Flags().StringVarP(&task, "task", "t", string(router.TaskGeneral), "task tag")
	cmd.Flags().BoolVar(&asVector, "vector", false, "parse the payload as numbers")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the fused result as JSON")
	return cmd
}

func learnCmd() *cobra.Command {
	var (
		task     string
		asVector bool
	)
	cmd := &cobra.Command{
		Use:   "learn [input] [target]",
		Short: "Teach an input/target pair to every module that accepts it",
		Long: `Teach an input/target pair. Numeric pairs whose sizes match the learner's
input and output layers also train the learner.

Examples:
  cortexmind learn "press the red button" "alarm"
  cortexmind learn --vector "1,0,1,0,0,0,0,0,0,1" "0,0,1,0,0,0,0,0,0,0"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tt, err := parseTask(task)
			if err != nil {
				return err
			}
			input, err := parsePayload(args[:1], asVector)
			if err != nil {
				return err
			}
			target, err := parsePayload(args[1:], asVector)
			if err != nil {
				return err
			}

			engine, cleanup, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := engine.Learn(cmd.Context(), input, target, tt); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ learned ") + orchestrator.PairText(input, target))
			return saveEngine(cmd, engine)
		},
	}
	cmd.Flags().StringVarP(&task, "task", "t", string(router.TaskLearning), "task tag")
	cmd.Flags().BoolVar(&asVector, "vector", false, "parse input and target as numbers")
	return cmd
}

func optimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Adapt routing from history and consolidate memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := engine.Optimize(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ optimized"))
			fmt.Printf("  %s %d\n", labelStyle.Render("observations:"), report.Observations)
			fmt.Printf("  %s %d\n", labelStyle.Render("consolidated:"), report.Consolidated)
			printRouting(engine.Status().RoutingTable)
			return saveEngine(cmd, engine)
		},
	}
}

func statusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show module, memory and routing status",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			return printStatus(engine.Status(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear per-call state and history",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			engine.Reset()
			fmt.Println(successStyle.Render("✓ reset"))
			return saveEngine(cmd, engine)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render("cortexmind configuration"))
			fmt.Print(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(getConfigPath())
		},
	})

	return cmd
}
