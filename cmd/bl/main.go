package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"battlelog/internal/app"
	"battlelog/internal/config"
	"battlelog/internal/db"
	"battlelog/internal/domain"
	"battlelog/internal/engine"
	"battlelog/internal/migrate"
	"battlelog/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Battlelog CLI",
	Long: `Battlelog keeps the authoritative record of a tabletop game session.
Core concepts:
- Workspace: a directory holding battlelog.yml (rules, roster, webhooks) and .battlelog/battlelog.db.
- Session: one game between the player and the opponent; its state only changes through mutations.
- Mutation: a typed change (phase, command points, objectives, unit damage, statuses, scoring, stratagems, notes).
- Event: the immutable record of one applied mutation, numbered by a per-session sequence.
- Revert: undoes an event; later events must be reverted with it (--cascade), newest first.
- Timeline: active events plus grouped reverts, view with 'bl log'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		app.NewLogger(viper.GetString("log-level"), viper.GetString("log-format"))
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BATTLELOG")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier recorded on events")
	flags.StringP("session", "s", "", "session id (defaults to the only active session)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.Duration("lock-timeout", engine.DefaultLockTimeout, "how long to wait for a busy session")
	flags.Int("busy-timeout-ms", 5000, "sqlite busy timeout in milliseconds")
	flags.String("jwt-secret", "", "HS256 secret for bearer tokens")
	for _, name := range []string{"workspace", "json", "actor-id", "session", "log-level", "log-format", "lock-timeout", "busy-timeout-ms", "jwt-secret"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(revertCmd())
	rootCmd.AddCommand(revertLastCmd())
	rootCmd.AddCommand(revertsCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default battlelog.yml and create the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				fmt.Printf("Wrote %s and initialized %s\n", path, db.Path(viper.GetString("workspace")))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing battlelog.yml")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace, BusyTimeoutMS: viper.GetInt("busy-timeout-ms")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, cfg, nil)
	if d := viper.GetDuration("lock-timeout"); d > 0 {
		e.LockTimeout = d
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace, BusyTimeoutMS: viper.GetInt("busy-timeout-ms")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// withSession resolves --session (or the single active session) before fn runs.
func withSession(ctx context.Context, fn func(context.Context, engine.Engine, domain.Session) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		s, err := app.ResolveSession(ctx, viper.GetString("session"), e.Repo)
		if err != nil {
			return err
		}
		return fn(ctx, e, s)
	})
}

func actorID() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
