package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ndenev/zvolcsi/api/agentpb"
)

func newCapacityCmd(conn *connectionParams, outputFormat *string) *cobra.Command {
	var protocolFlag string

	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Report available capacity for one or both protocols",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCapacity(cmd.Context(), conn, *outputFormat, protocolFlag)
		},
	}
	cmd.Flags().StringVar(&protocolFlag, "protocol", "", "Limit to one protocol: iscsi or nvmeof (defaults to both)")
	return cmd
}

func runCapacity(ctx context.Context, conn *connectionParams, outputFormat, protocolFlag string) error {
	client, err := connect(ctx, conn)
	if err != nil {
		return err
	}
	defer client.Close()

	protocols, err := capacityProtocols(protocolFlag)
	if err != nil {
		return err
	}

	type entry struct {
		Protocol       string `json:"protocol"`
		AvailableBytes int64  `json:"availableBytes"`
	}
	var entries []entry
	for _, p := range protocols {
		resp, capErr := client.GetCapacity(ctx, &agentpb.GetCapacityRequest{Protocol: p})
		if capErr != nil {
			return fmt.Errorf("get capacity for %s: %w", protocolBadge(p), capErr)
		}
		entries = append(entries, entry{Protocol: protocolName(p), AvailableBytes: resp.GetAvailableBytes()})
	}

	switch outputFormat {
	case outputFormatJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case outputFormatTable, "":
		t := newStyledTable()
		t.AppendHeader(table.Row{"Protocol", "Available"})
		for _, e := range entries {
			t.AppendRow(table.Row{e.Protocol, humanBytes(e.AvailableBytes)})
		}
		t.Render()
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownOutputFormat, outputFormat)
	}
}

func capacityProtocols(flagValue string) ([]agentpb.Protocol, error) {
	switch flagValue {
	case "":
		return []agentpb.Protocol{agentpb.Protocol_PROTOCOL_ISCSI, agentpb.Protocol_PROTOCOL_NVME_OF}, nil
	case "iscsi":
		return []agentpb.Protocol{agentpb.Protocol_PROTOCOL_ISCSI}, nil
	case "nvmeof":
		return []agentpb.Protocol{agentpb.Protocol_PROTOCOL_NVME_OF}, nil
	default:
		return nil, fmt.Errorf("unknown protocol %q: must be iscsi or nvmeof", flagValue)
	}
}

func protocolName(p agentpb.Protocol) string {
	switch p {
	case agentpb.Protocol_PROTOCOL_ISCSI:
		return "iscsi"
	case agentpb.Protocol_PROTOCOL_NVME_OF:
		return "nvmeof"
	default:
		return "unknown"
	}
}
