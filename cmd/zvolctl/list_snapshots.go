package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ndenev/zvolcsi/api/agentpb"
)

func newListSnapshotsCmd(conn *connectionParams, outputFormat *string) *cobra.Command {
	var sourceVolume string

	cmd := &cobra.Command{
		Use:   "list-snapshots",
		Short: "List all snapshots the Storage Agent manages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runListSnapshots(cmd.Context(), conn, *outputFormat, sourceVolume)
		},
	}
	cmd.Flags().StringVar(&sourceVolume, "volume", "", "Only show snapshots of this volume ID")
	return cmd
}

func runListSnapshots(ctx context.Context, conn *connectionParams, outputFormat, sourceVolume string) error {
	client, err := connect(ctx, conn)
	if err != nil {
		return err
	}
	defer client.Close()

	var snapshots []*agentpb.Snapshot
	token := ""
	for {
		resp, listErr := client.ListSnapshots(ctx, &agentpb.ListSnapshotsRequest{
			StartingToken:  token,
			SourceVolumeId: sourceVolume,
		})
		if listErr != nil {
			return fmt.Errorf("list snapshots: %w", listErr)
		}
		snapshots = append(snapshots, resp.GetSnapshots()...)
		token = resp.GetNextToken()
		if token == "" {
			break
		}
	}

	switch outputFormat {
	case outputFormatJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshots)
	case outputFormatTable, "":
		t := newStyledTable()
		t.AppendHeader(table.Row{"Snapshot ID", "Source Volume", "Size", "Created", "Ready"})
		for _, s := range snapshots {
			t.AppendRow(table.Row{
				s.GetSnapshotId(),
				s.GetSourceVolumeId(),
				humanBytes(s.GetSizeBytes()),
				time.Unix(s.GetCreatedAtUnix(), 0).Format(time.RFC3339),
				s.GetReadyToUse(),
			})
		}
		t.Render()
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownOutputFormat, outputFormat)
	}
}
