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

func newListVolumesCmd(conn *connectionParams, outputFormat *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list-volumes",
		Short: "List all volumes the Storage Agent manages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runListVolumes(cmd.Context(), conn, *outputFormat)
		},
	}
}

func runListVolumes(ctx context.Context, conn *connectionParams, outputFormat string) error {
	client, err := connect(ctx, conn)
	if err != nil {
		return err
	}
	defer client.Close()

	var volumes []*agentpb.Volume
	token := ""
	for {
		resp, listErr := client.ListVolumes(ctx, &agentpb.ListVolumesRequest{StartingToken: token})
		if listErr != nil {
			return fmt.Errorf("list volumes: %w", listErr)
		}
		volumes = append(volumes, resp.GetVolumes()...)
		token = resp.GetNextToken()
		if token == "" {
			break
		}
	}

	return outputVolumes(volumes, outputFormat)
}

func outputVolumes(volumes []*agentpb.Volume, outputFormat string) error {
	switch outputFormat {
	case outputFormatJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(volumes)
	case outputFormatTable, "":
		t := newStyledTable()
		t.AppendHeader(table.Row{"Volume ID", "Protocol", "Target", "Capacity", "Clone Of"})
		for _, v := range volumes {
			proto := agentpb.Protocol_PROTOCOL_UNSPECIFIED
			target := ""
			if exp := v.GetExport(); exp != nil {
				proto = exp.GetProtocol()
				target = exp.GetTargetName()
			}
			t.AppendRow(table.Row{
				v.GetVolumeId(),
				protocolBadge(proto),
				target,
				humanBytes(v.GetCapacityBytes()),
				v.GetSourceSnapshotId(),
			})
		}
		t.Render()
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownOutputFormat, outputFormat)
	}
}
