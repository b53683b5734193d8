// Command peernetd runs a standalone peer transport core over the
// websocket ChannelFactory, wired from a config file and flags.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "peernetd",
		Short: "Peer transport core daemon",
	}
	root.PersistentFlags().String("config", "", "path to a TOML/YAML config file")
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the protocol version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(buildProtocolVersion)
			return nil
		},
	}
}

// buildProtocolVersion mirrors p2p's wire protocol version so operators
// can confirm compatibility without starting the daemon.
const buildProtocolVersion = "1.0.0"
