package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"emperror.dev/errors"
	"github.com/spf13/cobra"

	"github.com/srodi/hotspot-exporter/pkg/classify"
	"github.com/srodi/hotspot-exporter/pkg/collector/iocount"
	"github.com/srodi/hotspot-exporter/pkg/procfs"
	"github.com/srodi/hotspot-exporter/pkg/scan"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate config and rules and probe host capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer tw.Flush()

		var failures []error
		report := func(name string, err error, detail string) {
			status := "ok"
			if err != nil {
				status = "FAIL"
				detail = err.Error()
				failures = append(failures, errors.WrapIf(err, name))
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name, status, detail)
		}

		report("config", nil, "valid")

		rules, err := classify.Load(cfg.RuleSources())
		if err == nil {
			report("rules", nil, fmt.Sprintf("%d rules, fingerprint %s", rules.Len(), rules.Fingerprint()))
		} else {
			report("rules", err, "")
		}

		if cfg.TestDataFile != "" {
			td, err := scan.LoadTestData(cfg.TestDataFile)
			report("test data", err, fmt.Sprintf("%d processes (version %s)", len(td.Processes), td.Version))
		} else {
			isProc, err := procfs.IsProcMount(cfg.ProcRoot)
			detail := "procfs mounted at " + cfg.ProcRoot
			if err == nil && !isProc {
				detail = cfg.ProcRoot + " is not a procfs mount"
			}
			report("proc root", err, detail)

			entries, err := procfs.Enumerator{Root: cfg.ProcRoot, Max: 1}.Collect()
			if err == nil && len(entries) == 0 {
				err = errors.Errorf("no process entries under %s", cfg.ProcRoot)
			}
			report("enumerate", err, "process table readable")

			report("memory", nil, scan.NewProcSource(cfg.Scan()).MemoryStrategy())
		}

		if cfg.EBPF.Enabled {
			c, err := iocount.Open(cfg.EBPF.Object)
			if err == nil {
				_ = c.Close()
			}
			report("ebpf", err, "loaded "+cfg.EBPF.Object)
		} else {
			report("ebpf", nil, "disabled")
		}

		if len(failures) > 0 {
			tw.Flush()
			return errors.Combine(failures...)
		}
		return nil
	},
}
