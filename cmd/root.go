package cmd

import (
	"github.com/spf13/cobra"

	"github.com/BioHazard786/Screenlink/internal/ui"
	"github.com/BioHazard786/Screenlink/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "screenlink",
	Short: "Peer-to-peer screen sharing and chat over WebRTC",
	Long: `Screenlink connects two peers in a named room through a small signaling
relay, then shares a screen stream and a chat channel directly between them.

Run "screenlink serve" to host the relay and "screenlink join" on each peer.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// The error has already been printed when Execute returns it.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	err := rootCmd.Execute()
	if err != nil {
		ui.PrintError(err.Error())
	}
	return err
}
