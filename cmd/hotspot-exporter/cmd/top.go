package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srodi/hotspot-exporter/pkg/types"
	"github.com/srodi/hotspot-exporter/pkg/ui"
)

const defaultTopInterval = 5 * time.Second

var (
	topInterval  time.Duration
	topDimension string
	topLimit     int
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the heaviest groups and processes in the terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dim := types.Dimension(topDimension)
		if !validDimension(dim) {
			return errors.Errorf("unknown dimension %q", topDimension)
		}
		if topInterval <= 0 {
			topInterval = defaultTopInterval
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := newPipeline(cfg)
		if err != nil {
			return err
		}
		defer p.Close()
		p.watchRules(ctx)

		cleanupTerminal := enableSingleView()
		defer cleanupTerminal()

		opts := ui.TopOptions{Dimension: dim, Limit: topLimit, Interval: topInterval}
		ticker := time.NewTicker(topInterval)
		defer ticker.Stop()

		for {
			if err := p.cache.Refresh(ctx); err != nil {
				log.Debugf("refresh failed: %v", err)
			}
			opts.Now = time.Now()

			var buf bytes.Buffer
			if err := ui.RenderTop(&buf, p.cache.Read(), opts); err != nil {
				return err
			}
			clearScreen()
			fmt.Print(buf.String())

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	topCmd.Flags().DurationVarP(&topInterval, "interval", "i", defaultTopInterval, "Refresh interval (e.g. 3s, 1m)")
	topCmd.Flags().StringVarP(&topDimension, "dimension", "d", string(types.DimensionUSS), "Dimension to sort by: rss, pss, uss, cpu or io")
	topCmd.Flags().IntVarP(&topLimit, "limit", "n", 15, "Rows per section; 0 shows all")
}

func validDimension(d types.Dimension) bool {
	for _, known := range types.Dimensions {
		if d == known {
			return true
		}
	}
	return false
}
