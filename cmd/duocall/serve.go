package main

import (
	"github.com/spf13/cobra"

	"github.com/1ureka/duocall/internal/app"
	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/util"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the room relay",
	Long: `Run the WebSocket room relay. Each room seats two peers and forwards
offers, answers and ICE candidates between them.

Examples:
  duocall serve
  duocall serve --listen 127.0.0.1:9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{Listen: flagListen, Debug: flagDebug})
		if err != nil {
			return err
		}
		if cfg.Debug {
			util.EnableDebug()
		}
		return app.Serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Address to listen on (default "+config.DefaultListenAddr+")")
}
