package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/handlers"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"xynconsole/internal/app"
	"xynconsole/internal/config"
	"xynconsole/internal/db"
	"xynconsole/internal/draft"
	"xynconsole/internal/engine"
	"xynconsole/internal/server"
	"xynconsole/internal/tui"
	xynsdk "xynconsole/sdk/go"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var origins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reference draft session backend",
		Long:  "Serve runs the draft session API on the workspace database together with the job worker and webhook dispatcher. Set XYN_JWT_SECRET to accept bearer tokens and GEMINI_API_KEY for the gemini generator.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			logger := log.New(os.Stderr, "xyn ", log.LstdFlags)
			b, err := app.OpenBackend(ctx, viper.GetString("workspace"), cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			handler, err := server.New(server.Config{
				Engine:   b.Engine,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:        cfg.Server.JWTSecret,
					AllowActorHeader: cfg.Server.AllowActorHdr,
					Logger:           logger,
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			if len(origins) > 0 {
				handler = handlers.CORS(
					handlers.AllowedOrigins(origins),
					handlers.AllowedMethods([]string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}),
					handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Api-Key", "X-Actor-Id"}),
				)(handler)
			}
			handler = handlers.CombinedLoggingHandler(os.Stderr, handler)

			go engine.Worker{Engine: b.Engine, Interval: cfg.Server.WorkerInterval}.Run(ctx)
			server.StartWebhookDispatcher(ctx, b.Engine)

			srv := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(sctx)
			}()
			fmt.Printf("Serving xyn API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().StringSliceVar(&origins, "cors-origin", nil, "allowed CORS origin (repeatable)")
	return cmd
}

func tuiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive draft session console",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, f, err := app.OpenLog(workspace)
			if err != nil {
				return err
			}
			defer f.Close()
			m, err := draft.New(app.NewClient(cfg), app.MachineOptions(cfg, logger))
			if err != nil {
				return err
			}
			defer m.Close()
			return tui.Run(m, logger)
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *xynsdk.Client) error {
				if err := c.Health(ctx); err != nil {
					return err
				}
				return printResult(map[string]bool{"ok": true}, "ok "+c.BaseURL)
			})
		},
	}
}

func devCmd() *cobra.Command {
	dev := &cobra.Command{
		Use:   "dev",
		Short: "Development credentials for the reference backend",
	}
	dev.AddCommand(devLoginCmd())
	dev.AddCommand(devAPIKeyCmd())
	return dev
}

func devLoginCmd() *cobra.Command {
	var actor string
	var save bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Mint a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *xynsdk.Client) error {
				token, err := c.DevLogin(ctx, actor)
				if err != nil {
					return err
				}
				if save {
					path := filepath.Join(viper.GetString("workspace"), ".env")
					if err := setEnvValue(path, "XYN_TOKEN", token); err != nil {
						return err
					}
				}
				return printResult(map[string]string{"token": token}, token)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "local-user", "actor id the token is issued to")
	cmd.Flags().BoolVar(&save, "save", false, "store the token as XYN_TOKEN in the workspace .env")
	return cmd
}

func devAPIKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "api-key", Short: "Manage API keys in the workspace database"}

	var actor, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the key is shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b *app.Backend) error {
				key, rec, err := b.Engine.Repo.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				return printResult(map[string]string{"id": rec.ID, "actor_id": rec.ActorID, "key": key}, key)
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "local-user", "actor id")
	create.Flags().StringVar(&name, "name", "", "label")

	var listActor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b *app.Backend) error {
				items, err := b.Engine.Repo.ListAPIKeys(ctx, listActor)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, k := range items {
					rows = append(rows, table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				return printJSONOrTable(items, table.Row{"ID", "Actor", "Name", "Created"}, rows)
			})
		},
	}
	list.Flags().StringVar(&listActor, "actor", "", "filter by actor id")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b *app.Backend) error {
				if err := b.Engine.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				return printResult(map[string]string{"deleted": args[0]}, "deleted "+args[0])
			})
		},
	}

	keys.AddCommand(create, list, del)
	return keys
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage console.yml",
		Long:  "console.yml holds the API endpoint and credentials, poll and paging settings, and the reference backend's catalog, recommendation and required-pack rules.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default console.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if _, err := db.EnsureStateDir(workspace); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			shown.API.Token = redact(shown.API.Token)
			shown.API.APIKey = redact(shown.API.APIKey)
			shown.Server.JWTSecret = redact(shown.Server.JWTSecret)
			if jsonOutput() {
				return printJSON(shown)
			}
			out, err := yaml.Marshal(&shown)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate console.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if jsonOutput() {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// setEnvValue sets key in a dotenv file, keeping the other entries.
func setEnvValue(path, key, value string) error {
	env, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		env = map[string]string{}
	} else if err != nil {
		return err
	}
	env[key] = value
	return godotenv.Write(env, path)
}
