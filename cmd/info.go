package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-ncch/internal/services"
)

var infoCmd = &cobra.Command{
	Use:   "info [container-path]",
	Short: "Show container, extended header and section metadata",
	Long: `Inspect an NCCH container or NCSD disc image.

Examples:
  # Human-readable summary
  go-ncch info game.cci

  # Machine-readable output
  go-ncch info game.cxi --output json

  # Encrypted container with external key material
  go-ncch info game.cci --keys ncch-keys.yaml`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(args[0])
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(path string) error {
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

	info, err := loader.Info()
	if err != nil {
		return err
	}

	if handled, err := printStructured(info); handled {
		return err
	}

	printInfoTable(info)
	return nil
}

func printInfoTable(info *services.ContainerInfo) {
	fmt.Printf("Program ID:              %s\n", info.ProgramID)
	fmt.Printf("Partition ID:            %s\n", info.PartitionID)
	fmt.Printf("Product code:            %s\n", info.ProductCode)
	fmt.Printf("Container version:       %d\n", info.Version)
	fmt.Printf("Encrypted:               %v\n", info.Encrypted)
	if info.Encrypted {
		fmt.Printf("Fixed key:               %v\n", info.FixedKey)
		fmt.Printf("Crypto method:           %s\n", info.CryptoMethod)
	}
	fmt.Printf("Process name:            %s\n", info.ProcessName)
	fmt.Printf("Entry point:             %s\n", info.EntryPoint)
	fmt.Printf("Code compressed:         %v\n", info.CodeCompressed)
	fmt.Printf("Stack size:              0x%X\n", info.StackSize)
	fmt.Printf("BSS size:                0x%X\n", info.BSSSize)
	fmt.Printf("Core version:            %d\n", info.CoreVersion)
	fmt.Printf("Priority:                0x%X\n", info.Priority)
	fmt.Printf("System mode:             %d\n", info.SystemMode)
	fmt.Printf("Resource limit category: %d\n", info.ResourceLimitCategory)
	fmt.Printf("RomFS present:           %v\n", info.HasRomFS)

	fmt.Printf("\nSections (%d):\n", len(info.Sections))
	for _, section := range info.Sections {
		fmt.Printf("  %-8s offset 0x%08X size 0x%08X\n", section.Name, section.Offset, section.Size)
	}
}
