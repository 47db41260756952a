package cmd

import (
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/srodi/hotspot-exporter/pkg/types"
	"github.com/srodi/hotspot-exporter/pkg/ui"
)

var testJSON bool

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run one collection cycle and print the snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline(cfg)
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.cache.Refresh(cmd.Context()); err != nil {
			return err
		}
		snap := p.cache.Read()

		if testJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		return ui.RenderTop(os.Stdout, snap, ui.TopOptions{Dimension: types.DimensionUSS, Now: time.Now()})
	},
}

func init() {
	testCmd.Flags().BoolVar(&testJSON, "json", false, "Print the full snapshot as JSON")
}
