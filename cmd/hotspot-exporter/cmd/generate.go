package cmd

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srodi/hotspot-exporter/pkg/scan"
)

var (
	generateOutput  string
	generateNames   []string
	generatePerName int
	generateOthers  int
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a synthetic process list for --test-data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		td := scan.GenerateTestData(generateNames, generatePerName, generateOthers, time.Now())
		if err := scan.WriteTestData(generateOutput, td); err != nil {
			return err
		}
		log.WithFields(log.Fields{"file": generateOutput, "processes": len(td.Processes)}).Info("test data written")
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "testdata.json", "Output file")
	generateCmd.Flags().StringSliceVar(&generateNames, "names",
		[]string{"postgres", "nginx", "redis-server", "java", "dockerd", "sshd"},
		"Process names to generate")
	generateCmd.Flags().IntVar(&generatePerName, "per-name", 3, "Processes per name")
	generateCmd.Flags().IntVar(&generateOthers, "others", 5, "Unclassified processes")
}
