// Package cli implements the convmem CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/convmem/internal/assembler"
	"github.com/rcliao/convmem/internal/config"
	"github.com/rcliao/convmem/internal/embedding"
	"github.com/rcliao/convmem/internal/llm"
	"github.com/rcliao/convmem/internal/store"
)

var (
	cfgFile    string
	formatFlag string
	cfg        *config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "convmem",
	Short: "Conversational context manager",
	Long: "Keeps durable chat transcripts, a semantic index of past turns, a rolling summary and a user profile, " +
		"and assembles them into a token-bounded context for each query. SQLite-backed, single binary.",
	PersistentPreRun: loadConfig,
	SilenceUsage:     true,
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ~/.convmem/config.yaml if present)")
	pf.StringP("db", "d", "", "Database path (default: $CONVMEM_DB or ~/.convmem/convmem.db)")
	pf.StringVarP(&formatFlag, "format", "f", "json", "Output format: json, yaml or text")
	pf.Int("budget", 0, "Max tokens in an assembled context")
	pf.Int("recent", 0, "Recent messages fetched per query")
	pf.Int("hits", 0, "Semantic hits fetched per query")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: text or json")
}

func loadConfig(cmd *cobra.Command, args []string) {
	c, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		exitErr("load config", err)
	}
	cfg = c
	slog.SetDefault(cfg.Logger(os.Stderr))
}

func getDBPath() string {
	return cfg.DB
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath())
}

// openManager wires the configured providers over s.
func openManager(ctx context.Context, s store.Store) (*assembler.Manager, error) {
	emb, err := embedding.New(cfg.Embedding())
	if err != nil {
		return nil, err
	}
	gen, err := llm.New(cfg.Generation())
	if err != nil {
		return nil, err
	}
	return assembler.Build(ctx, s, assembler.Options{
		Config:          cfg.Assembler(),
		Embedder:        emb,
		Generator:       gen,
		Metric:          cfg.Metric(),
		EmbedTimeout:    cfg.Embed.Timeout,
		GenerateTimeout: cfg.Generate.Timeout,
		Logger:          slog.Default(),
	})
}

// resumeSession opens a manager with sessionID active.
func resumeSession(ctx context.Context, s store.Store, sessionID string) *assembler.Manager {
	m, err := openManager(ctx, s)
	if err != nil {
		exitErr("open manager", err)
	}
	ok, err := m.LoadSession(ctx, sessionID)
	if err != nil {
		exitErr("load session", err)
	}
	if !ok {
		exitErr("load session", fmt.Errorf("session %s not found", sessionID))
	}
	return m
}

// printOut writes v in the selected output format. Text falls back to
// indented JSON for values without a text form.
func printOut(v any) {
	switch formatFlag {
	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			exitErr("encode yaml", err)
		}
		fmt.Print(string(b))
	default:
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
