package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-ncch/internal/interfaces"
	"github.com/deploymenttheory/go-ncch/internal/keystore"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Show configured key slot material",
	Long: `Report which NCCH key slots have KeyX material configured. Slots
without material make containers requiring them fail with a key error.`,

	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runKeys()
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
}

// ncchSlots lists the slots the loading path can consult, in method order.
var ncchSlots = []struct {
	slot interfaces.KeySlot
	name string
}{
	{interfaces.KeySlotNCCH, "NCCH (standard)"},
	{interfaces.KeySlotNCCH7x, "NCCH 7x"},
	{interfaces.KeySlotNCCHSec3, "NCCH Secure3"},
	{interfaces.KeySlotNCCHSec4, "NCCH Secure4"},
}

func runKeys() error {
	fs := afero.NewOsFs()
	logger := newLogger()

	provider, err := loadKeyStore(fs, logger)
	if err != nil {
		return err
	}

	store, ok := provider.(*keystore.Store)
	if !ok {
		return fmt.Errorf("unexpected key store implementation %T", provider)
	}

	type slotStatus struct {
		Slot    string `json:"slot" yaml:"slot"`
		Name    string `json:"name" yaml:"name"`
		HasKeyX bool   `json:"has_key_x" yaml:"has_key_x"`
	}
	var report []slotStatus
	for _, entry := range ncchSlots {
		report = append(report, slotStatus{
			Slot:    fmt.Sprintf("0x%02X", uint8(entry.slot)),
			Name:    entry.name,
			HasKeyX: store.HasKeyX(entry.slot),
		})
	}

	if handled, err := printStructured(report); handled {
		return err
	}

	for _, status := range report {
		state := "missing"
		if status.HasKeyX {
			state = "configured"
		}
		fmt.Printf("%-6s %-16s KeyX %s\n", status.Slot, status.Name, state)
	}
	return nil
}
