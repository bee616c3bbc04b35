package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ndenev/zvolcsi/api/agentpb"
)

var errDescribeRequiresVolumeID = errors.New("describe requires exactly one volume ID argument")

func newDescribeCmd(conn *connectionParams, outputFormat *string) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <volume-id>",
		Short: "Show detailed information about one volume",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errDescribeRequiresVolumeID
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(cmd.Context(), conn, *outputFormat, args[0])
		},
	}
}

func runDescribe(ctx context.Context, conn *connectionParams, outputFormat, volumeID string) error {
	client, err := connect(ctx, conn)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.GetVolume(ctx, &agentpb.GetVolumeRequest{VolumeId: volumeID})
	if err != nil {
		return fmt.Errorf("get volume %s: %w", volumeID, err)
	}
	v := resp.GetVolume()

	switch outputFormat {
	case outputFormatJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputFormatTable, "":
		t := newStyledTable()
		t.AppendRow(table.Row{colorHeader.Sprint("Volume ID"), v.GetVolumeId()})
		t.AppendRow(table.Row{colorHeader.Sprint("Dataset"), v.GetDatasetPath()})
		t.AppendRow(table.Row{colorHeader.Sprint("Device"), v.GetDevicePath()})
		t.AppendRow(table.Row{colorHeader.Sprint("Capacity"), humanBytes(v.GetCapacityBytes())})
		t.AppendRow(table.Row{colorHeader.Sprint("Created"), time.Unix(v.GetCreatedAtUnix(), 0).Format(time.RFC3339)})
		if snap := v.GetSourceSnapshotId(); snap != "" {
			t.AppendRow(table.Row{colorHeader.Sprint("Cloned From"), snap})
		}
		if exp := v.GetExport(); exp != nil {
			t.AppendRow(table.Row{colorHeader.Sprint("Protocol"), protocolBadge(exp.GetProtocol())})
			t.AppendRow(table.Row{colorHeader.Sprint("Target"), exp.GetTargetName()})
			if exp.GetProtocol() == agentpb.Protocol_PROTOCOL_ISCSI {
				t.AppendRow(table.Row{colorHeader.Sprint("LUN"), exp.GetLunId()})
			} else {
				t.AppendRow(table.Row{colorHeader.Sprint("Namespace"), exp.GetNamespaceId()})
			}
			t.AppendRow(table.Row{colorHeader.Sprint("Portal/Port Group"), exp.GetPortalGroup()})
			t.AppendRow(table.Row{colorHeader.Sprint("CHAP Enabled"), exp.GetChapEnabled()})
		}
		for k, val := range v.GetParameters() {
			t.AppendRow(table.Row{colorHeader.Sprint("Param " + k), val})
		}
		t.Render()
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownOutputFormat, outputFormat)
	}
}
