package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srodi/hotspot-exporter/pkg/classify"
)

var subgroupsCmd = &cobra.Command{
	Use:   "subgroups",
	Short: "List the merged classification rules in match order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := classify.Load(cfg.RuleSources())
		if err != nil {
			return err
		}

		fmt.Printf("%d rules, fingerprint %s\n\n", rules.Len(), rules.Fingerprint())
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tGROUP\tSUBGROUP\tMATCHES\tCMDLINE\tSOURCE")
		for i, r := range rules.Rules() {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, r.Group, r.Subgroup,
				strings.Join(r.Matches, ","), strings.Join(r.CmdlineMatches, ","), r.Source)
		}
		return tw.Flush()
	},
}
