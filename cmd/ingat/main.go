package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/suryadarma/ingat/internal/compile"
	"github.com/suryadarma/ingat/internal/config"
	"github.com/suryadarma/ingat/internal/gateway"
	"github.com/suryadarma/ingat/internal/logging"
	"github.com/suryadarma/ingat/internal/oracle"
	"github.com/suryadarma/ingat/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "ingat",
	Short: "ingat - chat memory pipeline",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full pipeline (channels + buffer + compilers)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ingat status",
	RunE:  runStatus,
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Run one compile job immediately",
	RunE:  runCompile,
}

var jobFlag string

func init() {
	compileCmd.Flags().StringVar(&jobFlag, "job", "hourly", "Job to run: hourly, daily or kb")
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, compileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'ingat onboard' or set INGAT_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(filepath.Join(cfgDir, "data"), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key and enable a channel\n", cfgPath)
	fmt.Println("  2. Or set INGAT_API_KEY and INGAT_TELEGRAM_TOKEN environment variables")
	fmt.Println("  3. Run 'ingat gateway' to start the pipeline")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Timezone: %s\n", cfg.Compile.Timezone)
	fmt.Printf("Debounce: %ds (max batch %d)\n", cfg.Buffer.DebounceSeconds, cfg.Buffer.MaxBatch)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("WhatsApp: enabled=%v\n", cfg.Channels.WhatsApp.Enabled)

	st, err := openStore(cfg)
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	fmt.Printf("Messages: %d\n", stats.Messages)
	fmt.Printf("Hourly notes: %d\n", stats.HourlyNotes)
	fmt.Printf("Daily digests: %d\n", stats.DailyDigests)
	fmt.Printf("Knowledge entries: %d\n", stats.KnowledgeEntries)
	fmt.Printf("Pending reminders: %d\n", stats.PendingReminders)
	fmt.Printf("Router decisions: %d\n", stats.AuditRecords)

	return nil
}

func runCompile(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Compile.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Compile.Timezone, err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	log := logging.New(cfg.Log.Level)
	oc := oracle.NewClient(cfg)
	ctx := context.Background()
	now := time.Now()

	switch jobFlag {
	case "hourly":
		return compile.NewHourlyCompiler(st, oc, loc, log).Run(ctx, now)
	case "daily":
		return compile.NewDailyCompiler(st, oc, loc, log).Run(ctx, now)
	case "kb":
		return compile.NewKnowledgeCompiler(st, oc, loc, log).Run(ctx, now)
	default:
		return fmt.Errorf("unknown job %q, want hourly, daily or kb", jobFlag)
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	dbPath := strings.TrimSpace(cfg.Store.DBPath)
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "ingat.db")
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
