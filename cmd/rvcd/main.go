//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/coachlink/rvcd/internal/config"
	"github.com/coachlink/rvcd/internal/daemon"
	"github.com/coachlink/rvcd/internal/feature"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var (
	catalogPath              string
	mappingPath              string
	verbose                  bool
	jsonLogs                 bool
	j1939SourceAddresses     string
	fireflyPGNRanges         string
	spartanK2SourceAddresses string

	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "rvcd",
	Short: "rvcd bridges an RV-C/CAN vehicle bus to REST and WebSocket clients",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rvcd %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(verbose, jsonLogs)
		slog.SetDefault(log)

		runtimeCfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading runtime config: %w", err)
		}
		if err := runtimeCfg.Validate(); err != nil {
			return fmt.Errorf("validating runtime config: %w", err)
		}

		j1939Addrs, err := parseHexByteList(j1939SourceAddresses)
		if err != nil {
			return fmt.Errorf("--j1939-source-addresses: %w", err)
		}
		spartanAddrs, err := parseHexByteList(spartanK2SourceAddresses)
		if err != nil {
			return fmt.Errorf("--spartank2-source-addresses: %w", err)
		}
		fireflyRanges, err := parsePGNRanges(fireflyPGNRanges)
		if err != nil {
			return fmt.Errorf("--firefly-pgn-ranges: %w", err)
		}

		d, err := daemon.New(daemon.Config{
			Logger:      log,
			CatalogPath: catalogPath,
			MappingPath: mappingPath,
			Runtime:     runtimeCfg,
			Protocols: daemon.ProtocolRosters{
				J1939SourceAddresses:     j1939Addrs,
				FireflyPGNRanges:         fireflyRanges,
				SpartanK2SourceAddresses: spartanAddrs,
			},
		})
		if err != nil {
			return fmt.Errorf("building daemon: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("starting daemon: %w", err)
		}
		log.Info("rvcd: started")

		<-ctx.Done()
		log.Info("rvcd: shutting down")

		stopCtx, cancel := context.WithTimeout(context.Background(), feature.DefaultStopTimeout*2)
		defer cancel()
		d.Stop(stopCtx)
		return nil
	},
}

func newLogger(verbose, jsonLogs bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if jsonLogs {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level}))
}

// parseHexByteList parses a comma-separated list of J1939/Spartan K2
// source addresses, accepting both decimal ("0,128") and 0x-prefixed hex
// ("0x00,0x80") forms.
func parseHexByteList(value string) ([]uint8, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	out := make([]uint8, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid source address %q: %w", p, err)
		}
		out = append(out, uint8(n))
	}
	return out, nil
}

// parsePGNRanges parses a comma-separated list of "low-high" PGN ranges.
func parsePGNRanges(value string) ([][2]uint32, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	out := make([][2]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		bounds := strings.SplitN(p, "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid range %q, expected low-high", p)
		}
		low, err := strconv.ParseUint(strings.TrimSpace(bounds[0]), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", p, err)
		}
		high, err := strconv.ParseUint(strings.TrimSpace(bounds[1]), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", p, err)
		}
		out = append(out, [2]uint32{uint32(low), uint32(high)})
	}
	return out, nil
}

func main() {
	runCmd.Flags().StringVar(&catalogPath, "catalog", "/etc/rvcd/catalog.yaml", "path to the PGN/signal catalog document")
	runCmd.Flags().StringVar(&mappingPath, "mapping", "/etc/rvcd/mapping.yaml", "path to the device binding mapping document")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	runCmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs instead of the colorized interactive format")
	runCmd.Flags().StringVar(&j1939SourceAddresses, "j1939-source-addresses", "", "comma-separated J1939 ECU source addresses present on this coach")
	runCmd.Flags().StringVar(&fireflyPGNRanges, "firefly-pgn-ranges", "", "comma-separated low-high Firefly PGN ranges, e.g. 0x1FF00-0x1FFFF")
	runCmd.Flags().StringVar(&spartanK2SourceAddresses, "spartank2-source-addresses", "", "comma-separated Spartan K2 chassis controller source addresses")

	rootCmd.AddCommand(versionCmd, runCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
