package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-ncch/internal/interfaces"
	"github.com/deploymenttheory/go-ncch/internal/services"
)

var (
	romfsDest   string
	romfsLocate bool
)

var romfsCmd = &cobra.Command{
	Use:   "romfs [container-path]",
	Short: "Locate or extract the embedded RomFS region",
	Long: `Locate the container's embedded RomFS region, or copy it out.
The region is read through an independent file handle, past the fixed
0x1000-byte inner header.

Examples:
  # Print region offset and size
  go-ncch romfs game.cci --locate

  # Extract the region
  go-ncch romfs game.cci --dest romfs.bin`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRomFS(args[0])
	},
}

func init() {
	rootCmd.AddCommand(romfsCmd)

	romfsCmd.Flags().StringVarP(&romfsDest, "dest", "d", "", "destination file for the extracted region")
	romfsCmd.Flags().BoolVar(&romfsLocate, "locate", false, "only print the region offset and size")
}

func runRomFS(path string) error {
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

	offset, size, err := loader.RomFS()
	if err != nil {
		return err
	}

	if romfsLocate || romfsDest == "" {
		region := struct {
			Offset uint64 `json:"offset" yaml:"offset"`
			Size   uint64 `json:"size" yaml:"size"`
		}{offset, size}
		if handled, err := printStructured(region); handled {
			return err
		}
		fmt.Printf("RomFS offset: 0x%X\nRomFS size:   0x%X\n", offset, size)
		return nil
	}

	factory := services.NewSelfArchiveFactory(fs, path, offset, size)
	return copyArchive(fs, factory, romfsDest, logger)
}

func copyArchive(fs afero.Fs, factory interfaces.ArchiveFactory, dest string, logger *slog.Logger) error {
	reader, size, err := factory.Open()
	if err != nil {
		return err
	}
	defer reader.Close()

	out, err := fs.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	written, err := io.Copy(out, reader)
	if err != nil {
		return fmt.Errorf("failed to copy archive region: %w", err)
	}
	logger.Info("extracted RomFS region", "bytes", written, "declared", size, "path", dest)
	return nil
}
