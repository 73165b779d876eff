package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shiftbreak/breakwatch/internal/breaks"
	"github.com/shiftbreak/breakwatch/internal/config"
	"github.com/shiftbreak/breakwatch/internal/router"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check configuration and routing interactively",
	Long:  `Check what Breakwatch would do with a given configuration or message.`,
}

var checkConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate the configuration file",
	Long:  `Load and validate the configuration file, printing the effective break rules.`,
	Args:  cobra.NoArgs,
	RunE:  runCheckConfig,
}

var checkRouteCmd = &cobra.Command{
	Use:   "route TEXT",
	Short: "Show how a chat message would be routed",
	Example: `  breakwatch check route 抽烟
  breakwatch check route "/setlimit 抽烟 12"
  breakwatch check route back`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckRoute,
}

func init() {
	checkCmd.AddCommand(checkConfigCmd)
	checkCmd.AddCommand(checkRouteCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		color.Red("✗ %v", err)
		return err
	}

	green := color.New(color.FgGreen)
	bold := color.New(color.Bold)

	green.Printf("✓ configuration valid: %s\n\n", configPath)

	bold.Println("Shift")
	fmt.Printf("  timezone:   UTC%+d\n", cfg.Shift.TimezoneOffsetHours)
	fmt.Printf("  day shift:  %s - %s\n", cfg.Shift.DayStart, cfg.Shift.NightStart)
	fmt.Println()

	bold.Println("Breaks")
	for _, entry := range []struct {
		name string
		kc   config.KindConfig
	}{
		{"toilet", cfg.Breaks.Toilet},
		{"smoke", cfg.Breaks.Smoke},
		{"meal", cfg.Breaks.Meal},
	} {
		fmt.Printf("  %-7s limit %2d min, quota %d/shift, min %s, cooldown %s\n",
			entry.name, entry.kc.LimitMinutes, entry.kc.ShiftQuota, entry.kc.MinDuration, entry.kc.Cooldown)
	}
	fmt.Printf("  grace after limit: %s\n", cfg.Breaks.Grace)
	fmt.Println()

	bold.Println("Storage")
	fmt.Printf("  type: %s\n", cfg.Storage.Type)
	if cfg.Storage.Type == "bolt" {
		fmt.Printf("  path: %s\n", cfg.Storage.Path)
	} else {
		fmt.Printf("  redis: %s:%d db %d\n", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, cfg.Storage.Redis.DB)
	}

	return nil
}

func runCheckRoute(cmd *cobra.Command, args []string) error {
	text := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		// Routing does not need a valid config; fall back to defaults.
		cfg = nil
	}

	intent := router.New("").Parse(text)

	bold := color.New(color.Bold)
	bold.Printf("input: %q\n", text)

	switch in := intent.(type) {
	case nil:
		color.Yellow("→ ignored (not addressed to this bot)")
	case router.Begin:
		color.Green("→ begin %s break", in.Kind)
		if cfg != nil {
			kc := kindConfig(cfg, in.Kind)
			fmt.Printf("  limit %d min, quota %d/shift, min %s, cooldown %s\n",
				kc.LimitMinutes, kc.ShiftQuota, kc.MinDuration, kc.Cooldown)
		}
	case router.End:
		color.Green("→ end active break")
	case router.Who:
		color.Cyan("→ list open sessions (admin)")
	case router.Summary:
		color.Cyan("→ shift summary (admin)")
	case router.SetLimit:
		color.Cyan("→ set %s limit to %d minutes (admin)", in.Kind, in.Minutes)
	case router.SetQuota:
		color.Cyan("→ set %s quota to %d per shift (admin)", in.Kind, in.Count)
	case router.Mute:
		color.Cyan("→ set chat mute to %v (admin)", in.Muted)
	case router.Start:
		color.Green("→ usage explainer")
	case router.WhoAmI:
		color.Green("→ report sender ID")
	case router.Ping:
		color.Green("→ liveness check")
	case router.BadUsage:
		color.Yellow("→ malformed /%s arguments, usage reply", in.Command)
	case router.Unrecognized:
		color.Yellow("→ unrecognized, usage prompt for non-admins")
	}

	return nil
}

func kindConfig(cfg *config.Config, kind breaks.Kind) config.KindConfig {
	switch kind {
	case breaks.KindSmoke:
		return cfg.Breaks.Smoke
	case breaks.KindMeal:
		return cfg.Breaks.Meal
	default:
		return cfg.Breaks.Toilet
	}
}
