package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-ncch/internal/services"
	"github.com/deploymenttheory/go-ncch/internal/types"
)

var (
	extractDest     string
	extractSections []string
)

var extractCmd = &cobra.Command{
	Use:   "extract [container-path]",
	Short: "Extract ExeFS sections (.code, icon, banner, logo)",
	Long: `Extract named sections from a container's internal filesystem.
The .code section is decrypted and decompressed as required.

Examples:
  # Extract every populated section
  go-ncch extract game.cxi --dest ./out

  # Extract only the decoded code image
  go-ncch extract game.cci --dest ./out --section .code`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtract(args[0])
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVarP(&extractDest, "dest", "d", "", "destination directory (required)")
	extractCmd.Flags().StringSliceVarP(&extractSections, "section", "s", nil, "section name to extract (repeatable, default: all)")
	extractCmd.MarkFlagRequired("dest")
}

func runExtract(path string) error {
	fs := afero.NewOsFs()
	logger := newLogger()

	keys, err := loadKeyStore(fs, logger)
	if err != nil {
		return err
	}

	loader, err := services.NewLoader(path, services.LoaderConfig{
		Fs:     fs,
		Keys:   keys,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer loader.Close()

	names := extractSections
	if len(names) == 0 {
		info, err := loader.Info()
		if err != nil {
			return err
		}
		for _, section := range info.Sections {
			names = append(names, section.Name)
		}
	}

	if err := fs.MkdirAll(extractDest, 0o755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	for _, name := range names {
		data, err := loader.ReadSection(name)
		if errors.Is(err, types.ErrSectionNotPresent) {
			logger.Warn("section not present, skipping", "section", name)
			continue
		}
		if err != nil {
			return err
		}

		outPath := filepath.Join(extractDest, sectionFileName(name))
		if err := afero.WriteFile(fs, outPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		logger.Info("extracted section", "section", name, "bytes", len(data), "path", outPath)
	}

	return nil
}

// sectionFileName maps a section name onto a writable file name, dropping
// the leading dot of .code.
func sectionFileName(name string) string {
	trimmed := strings.TrimPrefix(name, ".")
	if trimmed == "" {
		return "section.bin"
	}
	return trimmed + ".bin"
}
