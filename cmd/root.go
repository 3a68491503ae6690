package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-ncch/internal/interfaces"
	"github.com/deploymenttheory/go-ncch/internal/keystore"
)

var (
	// Global output flags only
	verbose      bool
	quiet        bool
	outputFormat string
	keysPath     string
)

var rootCmd = &cobra.Command{
	Use:   "go-ncch",
	Short: "Cross-platform NCCH container inspector and extractor",
	Long: `go-ncch is a cross-platform, read-only command-line tool for inspecting
and extracting Nintendo 3DS NCCH partition containers and NCSD disc images.

Handles encrypted containers when slot key material is supplied, including
fixed-key titles, and decompresses LZSS-compressed code sections.

Commands:
  info       Show container, extended header and section metadata
  extract    Extract ExeFS sections (.code, icon, banner, logo)
  romfs      Locate or extract the embedded RomFS region
  keys       Show configured key slot material`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Only global output control flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVarP(&keysPath, "keys", "k", "", "path to key material file (default: ./"+keystore.DefaultConfigName+")")
}

// newLogger builds the CLI logger honoring the verbosity flags.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadKeyStore reads slot material from the configured path. A missing
// default file is not an error: unencrypted and fixed-key containers load
// without any key material.
func loadKeyStore(fs afero.Fs, logger *slog.Logger) (interfaces.KeySlotProvider, error) {
	path := keysPath
	explicit := path != ""
	if !explicit {
		path = keystore.DefaultConfigName
	}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		if explicit {
			return nil, fmt.Errorf("key material file not found: %s", path)
		}
		logger.Debug("no key material file, proceeding without slot keys")
		return keystore.NewStore(), nil
	}

	store, err := keystore.LoadConfig(fs, path)
	if err != nil {
		return nil, err
	}
	logger.Debug("loaded key material", "path", path)
	return store, nil
}
