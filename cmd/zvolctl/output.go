package main

import (
	"errors"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ndenev/zvolcsi/api/agentpb"
)

var errUnknownOutputFormat = errors.New("unknown output format")

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

// Color variables for consistent styling across all commands.
var (
	colorHeader         = color.New(color.FgWhite, color.Bold)
	colorMuted          = color.New(color.Faint)
	colorProtocolISCSI  = color.New(color.FgYellow)
	colorProtocolNVMeOF = color.New(color.FgMagenta)
)

// protocolBadge returns a colored protocol name for table output.
func protocolBadge(p agentpb.Protocol) string {
	switch p {
	case agentpb.Protocol_PROTOCOL_ISCSI:
		return colorProtocolISCSI.Sprint("iSCSI")
	case agentpb.Protocol_PROTOCOL_NVME_OF:
		return colorProtocolNVMeOF.Sprint("NVMe-oF")
	default:
		return colorMuted.Sprint("-")
	}
}

// newStyledTable creates a pre-configured go-pretty table with StyleLight
// base, upper-cased left-aligned headers, no outer border and no row
// separators.
func newStyledTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)

	style := table.StyleLight
	style.Options.SeparateRows = false
	style.Options.DrawBorder = false
	style.Options.SeparateColumns = true
	style.Format.Header = text.FormatUpper
	style.Format.HeaderAlign = text.AlignLeft
	t.SetStyle(style)

	return t
}
