// Package main implements zvolctl, a read-only operator CLI for a zvolcsi
// Storage Agent: list volumes and snapshots, describe one volume, and
// report per-protocol capacity.
//
// Usage:
//
//	zvolctl list-volumes
//	zvolctl list-snapshots [--volume <id>]
//	zvolctl describe <volume-id>
//	zvolctl capacity [--protocol iscsi|nvmeof]
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		agentAddress string
		tlsCertFile  string
		tlsKeyFile   string
		tlsCAFile    string
		outputFormat string
	)

	rootCmd := &cobra.Command{
		Use:     "zvolctl",
		Short:   "Inspect a zvolcsi Storage Agent's volumes, snapshots and capacity",
		Version: version + " (" + commit + ")",
	}

	rootCmd.PersistentFlags().StringVar(&agentAddress, "agent-address", os.Getenv("ZVOLCTL_AGENT_ADDRESS"), "Storage Agent gRPC address, e.g. storage-agent:9443")
	rootCmd.PersistentFlags().StringVar(&tlsCertFile, "tls-cert", "", "Client certificate for mTLS (requires --tls-key and --tls-ca)")
	rootCmd.PersistentFlags().StringVar(&tlsKeyFile, "tls-key", "", "Client private key for mTLS")
	rootCmd.PersistentFlags().StringVar(&tlsCAFile, "tls-ca", "", "CA certificate used to verify the Storage Agent's server cert")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", outputFormatTable, "Output format: table, json")

	conn := &connectionParams{
		address:  &agentAddress,
		certFile: &tlsCertFile,
		keyFile:  &tlsKeyFile,
		caFile:   &tlsCAFile,
	}

	rootCmd.AddCommand(newListVolumesCmd(conn, &outputFormat))
	rootCmd.AddCommand(newListSnapshotsCmd(conn, &outputFormat))
	rootCmd.AddCommand(newDescribeCmd(conn, &outputFormat))
	rootCmd.AddCommand(newCapacityCmd(conn, &outputFormat))

	return rootCmd
}
