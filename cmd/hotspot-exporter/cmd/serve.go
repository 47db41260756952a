package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srodi/hotspot-exporter/pkg/server"
)

var (
	bind string
	port int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve metrics over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("bind") {
			cfg.Bind = bind
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = port
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := newPipeline(cfg)
		if err != nil {
			return err
		}
		defer p.Close()

		p.watchRules(ctx)
		runDone := make(chan struct{})
		go func() {
			defer close(runDone)
			p.cache.Run(ctx, cfg.RefreshInterval)
		}()
		err = server.New(p.cache, cfg).Start(ctx)
		stop()
		<-runDone
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&bind, "bind", "", "Listen address (overrides bind)")
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides port)")
}
