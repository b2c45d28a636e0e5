// duocall: CLI entry point.
//
// The tool joins a two-party WebRTC call through a room relay, or runs that
// relay. It can be launched with flags or, on a terminal, interactively.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/duocall/internal/util"
)

var version = "dev"

var flagDebug bool

var rootCmd = &cobra.Command{
	Use:     "duocall",
	Short:   "Two-party WebRTC calls over a WebSocket room relay",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagDebug {
			util.EnableDebug()
		}
		pterm.Info.Println(fmt.Sprintf("duocall v%s", version))
		pterm.Println()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd, joinCmd)
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}
