package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vikabot/internal/config"
	"vikabot/internal/conversation"
	"vikabot/internal/credstore"
	"vikabot/internal/db"
	"vikabot/internal/journal"
	"vikabot/internal/migrate"
	"vikabot/internal/session"
	"vikabot/internal/tasks"
	"vikabot/internal/telegram"
	"vikabot/internal/vikunja"
)

var rootCmd = &cobra.Command{
	Use:   "vikabot",
	Short: "Telegram front end for the Vikunja task API",
	Long: `vikabot bridges a Telegram chat and a Vikunja instance: log in once,
then create tasks by just typing them ("Buy milk !2 *errands +Home tomorrow"),
browse and edit your active tasks with inline buttons, and check what is due
today. Saved logins live in an owner-only credentials file; every mutation is
recorded in a local activity journal (see 'vikabot log tail').`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("VIKABOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("telegram-token", "", "bot token (overrides config)")
	rootCmd.PersistentFlags().String("vikunja-url", "", "Vikunja API base URL (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("telegram-token", rootCmd.PersistentFlags().Lookup("telegram-token"))
	_ = viper.BindPFlag("vikunja-url", rootCmd.PersistentFlags().Lookup("vikunja-url"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(projectsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

// loadConfig reads vikabot.yml and applies flag/env overrides.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	if v := viper.GetString("telegram-token"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := viper.GetString("vikunja-url"); v != "" {
		cfg.Vikunja.URL = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			workspace := viper.GetString("workspace")

			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}

			client := vikunja.New(cfg.Vikunja.URL)
			store := credstore.New(cfg.CredentialsPath(workspace))
			sessions := session.NewManager(client, store)
			agg := tasks.New(client, sessions)

			bot := telegram.NewBot(telegram.Config{
				Token:      cfg.Telegram.Token,
				AllowedIDs: cfg.Telegram.AllowedIDs,
			})
			ctrl := conversation.New(bot, sessions, agg, journal.New(conn))
			ctrl.DefaultProject = cfg.Tasks.DefaultProjectID
			bot.Controller = ctrl

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Printf("vikabot: starting with Vikunja API %s", cfg.Vikunja.URL)
			if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			log.Printf("vikabot: shutting down")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the Vikunja API connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			url := strings.TrimRight(cfg.Vikunja.URL, "/") + "/info"
			httpClient := &http.Client{Timeout: 10 * time.Second}
			start := time.Now()
			resp, err := httpClient.Get(url)
			if err != nil {
				return fmt.Errorf("vikunja unreachable: %w", err)
			}
			defer resp.Body.Close()
			status := map[string]any{
				"url":        cfg.Vikunja.URL,
				"reachable":  resp.StatusCode < 500,
				"status":     resp.StatusCode,
				"latency_ms": time.Since(start).Milliseconds(),
			}
			return printJSONOrTable(status)
		},
	}
}

func projectsCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects visible to a Vikunja account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password are required")
			}
			client := vikunja.New(cfg.Vikunja.URL)
			token, err := client.Login(cmd.Context(), username, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			projects, err := client.Projects(cmd.Context(), token)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(projects)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Title", "Archived"})
			for _, p := range projects {
				tw.AppendRow(table.Row{p.ID, p.Title, p.IsArchived})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Vikunja username")
	cmd.Flags().StringVar(&password, "password", "", "Vikunja password")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Activity journal",
		Long:  "Everything the bot did on your behalf: tasks created, completed, deleted, and logins.",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			entries, err := journal.New(conn).Tail(cmd.Context(), n)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(entries)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Time", "Chat", "Event", "Detail"})
			for _, e := range entries {
				tw.AppendRow(table.Row{e.ID, e.TS, e.ChatID, e.Event, e.Detail})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter vikabot.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// never echo the bot token in full
			shown := *cfg
			if len(shown.Telegram.Token) > 8 {
				shown.Telegram.Token = shown.Telegram.Token[:8] + "..."
			}
			return printJSONOrTable(shown)
		},
	}
}

// --- helpers ---

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
