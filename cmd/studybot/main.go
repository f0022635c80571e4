package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MurHyun2/discord-study-bot/internal/attendance"
	"github.com/MurHyun2/discord-study-bot/internal/config"
	"github.com/MurHyun2/discord-study-bot/internal/gateway"
	"github.com/MurHyun2/discord-study-bot/internal/ledger"
)

// ledgerView is the read side one-shot commands need (allows mocking in tests)
type ledgerView interface {
	Participation(ctx context.Context) ([]attendance.Participation, error)
	CheckDate(ctx context.Context, day ledger.Date) (attendance.DateCheck, error)
	Today() ledger.Date
	Close() error
}

// openLedger is swapped in tests.
var openLedger = func(ctx context.Context, cfg *config.Config) (ledgerView, error) {
	l, err := gateway.OpenLedger(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	return l, nil
}

const commandTimeout = 2 * time.Minute

var rootCmd = &cobra.Command{
	Use:   "studybot",
	Short: "studybot - Discord study attendance bot",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the bot (slash commands, midnight absence check, health endpoint)",
	RunE:  runGateway,
}

var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Print every member's participation rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRate(cmd.Context(), cmd.OutOrStdout())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Print who recorded on a date and who did not",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd.Context(), cmd.OutOrStdout(), dateFlag)
	},
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Create a config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnboard(cmd.OutOrStdout())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show studybot configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.OutOrStdout())
	},
}

var dateFlag string

func init() {
	checkCmd.Flags().StringVarP(&dateFlag, "date", "d", "", "Date to check (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(gatewayCmd, rateCmd, checkCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadValidConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w. Run 'studybot onboard' or set the environment variables", err)
	}
	return cfg, nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func withLedger(ctx context.Context, fn func(ctx context.Context, l ledgerView) error) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	l, err := openLedger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to discord: %w", err)
	}
	defer l.Close()
	return fn(ctx, l)
}

func runRate(ctx context.Context, w io.Writer) error {
	return withLedger(ctx, func(ctx context.Context, l ledgerView) error {
		rates, err := l.Participation(ctx)
		if err != nil {
			return fmt.Errorf("compute participation: %w", err)
		}
		printRates(w, l.Today(), rates)
		return nil
	})
}

func runCheck(ctx context.Context, w io.Writer, date string) error {
	var day ledger.Date
	if strings.TrimSpace(date) != "" {
		d, err := ledger.ParseDate(strings.TrimSpace(date))
		if err != nil {
			return fmt.Errorf("invalid --date, want YYYY-MM-DD: %w", err)
		}
		day = d
	}

	return withLedger(ctx, func(ctx context.Context, l ledgerView) error {
		if day.IsZero() {
			day = l.Today()
		}
		dc, err := l.CheckDate(ctx, day)
		if err != nil {
			return fmt.Errorf("check %s: %w", day, err)
		}
		printDateCheck(w, dc)
		return nil
	})
}

func printRates(w io.Writer, today ledger.Date, rates []attendance.Participation) {
	fmt.Fprintf(w, "Participation as of %s\n", today)
	if len(rates) == 0 {
		fmt.Fprintln(w, "  (no members)")
		return
	}
	for _, r := range rates {
		fmt.Fprintf(w, "  %-20s %6.1f%%  %d/%d days\n", r.Member.DisplayName, r.Ratio, r.ParticipatedDays, r.TotalDays)
	}
}

func printDateCheck(w io.Writer, dc attendance.DateCheck) {
	fmt.Fprintf(w, "Study status for %s\n", dc.Day)
	fmt.Fprintf(w, "Recorded (%d):\n", len(dc.Participants))
	for _, p := range dc.Participants {
		fmt.Fprintf(w, "  %s: %s\n", p.Member.DisplayName, oneLine(p.Content))
	}
	fmt.Fprintf(w, "Missing (%d):\n", len(dc.Absentees))
	for _, m := range dc.Absentees {
		fmt.Fprintf(w, "  %s\n", m.DisplayName)
	}
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "-"
	}
	return s
}

func runOnboard(w io.Writer) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(w, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(w, "Config already exists: %s\n", cfgPath)
	}

	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintf(w, "  1. Edit %s to set the Discord bot token and study channel id\n", cfgPath)
	fmt.Fprintln(w, "  2. Or set STUDYBOT_DISCORD_TOKEN and STUDYBOT_CHANNEL_ID (a .env file works too)")
	fmt.Fprintln(w, "  3. Run 'studybot rate' to test, then 'studybot gateway'")
	return nil
}

func runStatus(w io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(w, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(w, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(w, "Discord token: %s\n", maskSecret(cfg.Discord.Token))
	fmt.Fprintf(w, "Study channel: %s\n", valueOr(cfg.Discord.ChannelID, "not set"))
	fmt.Fprintf(w, "Guild: %s\n", valueOr(cfg.Discord.GuildID, "from channel"))
	fmt.Fprintf(w, "Ledger: mode=%s timezone=%s\n", cfg.Ledger.Mode, cfg.Ledger.Timezone)
	fmt.Fprintf(w, "History: page=%d cap=%d\n", cfg.History.PageSize, cfg.History.MaxTotal)
	fmt.Fprintf(w, "Rollover: every %s\n", cfg.Rollover.Interval)
	fmt.Fprintf(w, "Telegram: enabled=%v\n", cfg.Telegram.Enabled)
	fmt.Fprintf(w, "Health: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "Ready: no (%v)\n", err)
	} else {
		fmt.Fprintln(w, "Ready: yes")
	}
	return nil
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return "not set"
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "set"
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
