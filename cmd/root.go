// Package cmd hosts the cobra command tree that is the sole consumer of
// the core packages' query surface (spec.md §6) — argument parsing and
// dispatch, kept entirely out of internal/... per spec.md §1's "external
// collaborators" scoping.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	imagePath       string
	geometryOffset  string
	pebSizeFlag     int
	pebGapThreshold int
	outputFormat    string
	verbose         bool
	quiet           bool
	scanTimeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:     "ubift",
	Short:   "Forensic analysis toolkit for raw NAND/UBI/UBIFS images",
	Version: "0.1.0-dev",
	Long: `ubift reconstructs the UBI volume-management layer and UBIFS file
system from a raw NAND flash dump and exposes browsing and recovery
commands over the result.

Commands:
  mtdls, mtdcat, pebcat     partition and PEB inspection
  ubils, ubicat             UBI volume inspection
  lebls, lebcat             logical erase block inspection
  fsstat, fls, ils, istat,
  icat, ffind, jls          UBIFS browsing
  recover, info             deleted-object recovery and statistics`,
}

// Execute runs the root command, translating any returned error into a
// non-zero exit code per spec.md §6's exit-code contract.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ubift: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	}
	rootCmd.PersistentFlags().StringVar(&imagePath, "image", "", "path to the raw flash image")
	rootCmd.PersistentFlags().StringVar(&geometryOffset, "offset", "", "explicit partition offset (decimal or 0x-hex); together with --peb-size, bypasses geometry detection")
	rootCmd.PersistentFlags().IntVar(&pebSizeFlag, "peb-size", 0, "explicit PEB size in bytes; together with --offset, bypasses geometry detection")
	rootCmd.PersistentFlags().IntVar(&pebGapThreshold, "peb-gap-threshold", 0, "non-UBI PEBs tolerated inside a UBI run before splitting it (default 3)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose progress output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().DurationVar(&scanTimeout, "timeout", 0, "abort a deleted-object scan after this long (0 disables the timeout)")
}

// loadConfig loads ubift.yaml via viper, following the same search-path
// and defaulting convention as the teacher's internal/disk.LoadDMGConfig.
func loadConfig() error {
	viper.SetConfigName("ubift")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.ubift")
	viper.AddConfigPath("/etc/ubift")

	viper.SetDefault("output", "table")
	viper.SetDefault("peb_gap_threshold", 3)

	viper.SetEnvPrefix("UBIFT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	if !rootCmd.PersistentFlags().Changed("output") {
		outputFormat = viper.GetString("output")
	}
	if !rootCmd.PersistentFlags().Changed("peb-gap-threshold") {
		pebGapThreshold = viper.GetInt("peb_gap_threshold")
	}
	return nil
}
