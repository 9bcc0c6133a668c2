package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"xynconsole/internal/app"
	"xynconsole/internal/config"
	"xynconsole/internal/draft"
	"xynconsole/internal/telemetry"
	xynsdk "xynconsole/sdk/go"
)

var shutdownTracer func(context.Context) error

var rootCmd = &cobra.Command{
	Use:   "xyn",
	Short: "Xyn draft session console",
	Long: `xyn drives AI draft sessions against a Xyn backend.
- Session: a title, a kind (blueprint or solution), an optional namespace/project placement and the inputs a draft is generated from.
- Prompt: the initial prompt; it locks once the first generation is enqueued.
- Source artifacts: extra text inputs, including transcripts of voice notes.
- Context packs: versioned reference bundles; resolving them pins an effective context hash.
- Generation and revision run as background jobs; the console polls until they finish.
- Revisions: append-only history of generate/revise/save/snapshot actions.
- Submit: turns a ready session into a blueprint or solution entity once required packs are selected.
Run 'xyn serve' for a local reference backend and 'xyn tui' for the interactive console.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !viper.GetBool("trace") {
			return nil
		}
		shutdown, err := telemetry.InitTracer(os.Stderr)
		if err != nil {
			return err
		}
		shutdownTracer = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTracer == nil {
			return nil
		}
		return shutdownTracer(context.Background())
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	viper.SetEnvPrefix("XYN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("base-url", "", "API base URL (overrides config)")
	flags.String("actor-id", "", "actor identifier sent as X-Actor-Id")
	flags.String("token", "", "bearer token")
	flags.String("api-key", "", "API key")
	flags.Bool("trace", false, "print OpenTelemetry spans to stderr")
	for _, name := range []string{"workspace", "json", "base-url", "actor-id", "token", "api-key", "trace"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(revisionsCmd())
	rootCmd.AddCommand(packsCmd())
	rootCmd.AddCommand(voiceCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tuiCmd())
	rootCmd.AddCommand(devCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(healthCmd())
}

// --- helpers ---

// loadConfig reads console.yml (or the defaults) and applies flag and XYN_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("base-url"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := viper.GetString("actor-id"); v != "" {
		cfg.API.ActorID = v
	}
	if v := viper.GetString("token"); v != "" {
		cfg.API.Token = v
	}
	if v := viper.GetString("api-key"); v != "" {
		cfg.API.APIKey = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Server.JWTSecret = v
	}
	return cfg, nil
}

func withClient(ctx context.Context, fn func(context.Context, *xynsdk.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return fn(ctx, app.NewClient(cfg))
}

// withMachine selects session id on a fresh machine, runs fn and shuts the machine down.
func withMachine(ctx context.Context, id string, fn func(context.Context, *draft.Machine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := app.MachineOptions(cfg, nil)
	m, err := draft.New(app.NewClient(cfg), opts)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Select(ctx, id); err != nil {
		return err
	}
	return fn(ctx, m)
}

func withBackend(ctx context.Context, fn func(context.Context, *app.Backend) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := app.OpenBackend(ctx, workspace, cfg, nil)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b)
}

func jsonOutput() bool {
	return viper.GetBool("json")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printJSONOrTable prints v as JSON with --json and as a table otherwise.
func printJSONOrTable(v any, header table.Row, rows []table.Row) error {
	if jsonOutput() {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.SetStyle(table.StyleLight)
	tw.Render()
	return nil
}

func printResult(v any, text string) error {
	if jsonOutput() {
		return printJSON(v)
	}
	fmt.Println(text)
	return nil
}

func short(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
