package ctlconfig

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	beginISCSIMarker = "# BEGIN ZVOLCSI MANAGED ISCSI TARGETS"
	endISCSIMarker   = "# END ZVOLCSI MANAGED ISCSI TARGETS"
	beginNVMeMarker  = "# BEGIN ZVOLCSI MANAGED NVME CONTROLLERS"
	endNVMeMarker    = "# END ZVOLCSI MANAGED NVME CONTROLLERS"
)

// Serialize renders preserved (everything the agent did not author) plus
// the model's two managed regions, in the kernel target daemon's UCL-like
// grammar.
func Serialize(preserved string, m *Model) string {
	var b strings.Builder
	preserved = strings.TrimRight(preserved, "\n")
	if preserved != "" {
		b.WriteString(preserved)
		b.WriteString("\n")
	}

	b.WriteString(beginISCSIMarker)
	b.WriteString("\n")
	for _, iqn := range sortedKeys(m.ISCSITargets) {
		t := m.ISCSITargets[iqn]
		fmt.Fprintf(&b, "target %q {\n", iqn)
		fmt.Fprintf(&b, "    auth-group %s\n", t.AuthGroup)
		fmt.Fprintf(&b, "    portal-group %s\n", t.PortalGroup)
		fmt.Fprintf(&b, "    lun %d { path %q }\n", t.LunID, t.DevicePath)
		b.WriteString("}\n")
	}
	b.WriteString(endISCSIMarker)
	b.WriteString("\n")

	b.WriteString(beginNVMeMarker)
	b.WriteString("\n")
	for _, nqn := range sortedKeys(m.NVMeControllers) {
		c := m.NVMeControllers[nqn]
		fmt.Fprintf(&b, "controller %q {\n", nqn)
		fmt.Fprintf(&b, "    auth-group %s\n", c.AuthGroup)
		fmt.Fprintf(&b, "    transport-group %s\n", c.TransportGroup)
		fmt.Fprintf(&b, "    namespace %d { path %q }\n", c.NamespaceID, c.DevicePath)
		b.WriteString("}\n")
	}
	b.WriteString(endNVMeMarker)
	b.WriteString("\n")

	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Parse splits content into (preserved, model): everything outside the
// managed marker regions is preserved byte-for-byte (P5); everything
// inside is decoded into the Model (P4, round-trip with Serialize).
func Parse(content string) (preserved string, m *Model, err error) {
	m = NewModel()
	var preservedLines []string
	var managedISCSI, managedNVMe []string

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	state := "preserved"
	for scanner.Scan() {
		line := scanner.Text()
		switch strings.TrimSpace(line) {
		case beginISCSIMarker:
			state = "iscsi"
			continue
		case endISCSIMarker:
			state = "preserved"
			continue
		case beginNVMeMarker:
			state = "nvme"
			continue
		case endNVMeMarker:
			state = "preserved"
			continue
		}
		switch state {
		case "preserved":
			preservedLines = append(preservedLines, line)
		case "iscsi":
			managedISCSI = append(managedISCSI, line)
		case "nvme":
			managedNVMe = append(managedNVMe, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("scan config: %w", err)
	}

	if err := parseISCSITargets(managedISCSI, m); err != nil {
		return "", nil, err
	}
	if err := parseNVMeControllers(managedNVMe, m); err != nil {
		return "", nil, err
	}

	return strings.Join(preservedLines, "\n"), m, nil
}

func parseISCSITargets(lines []string, m *Model) error {
	var cur *ISCSITarget
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "target "):
			iqn, err := extractQuoted(line)
			if err != nil {
				return fmt.Errorf("parse target line %q: %w", raw, err)
			}
			cur = &ISCSITarget{IQN: iqn}
		case cur == nil:
			continue
		case strings.HasPrefix(line, "auth-group "):
			cur.AuthGroup = strings.TrimSpace(strings.TrimPrefix(line, "auth-group "))
		case strings.HasPrefix(line, "portal-group "):
			cur.PortalGroup = strings.TrimSpace(strings.TrimPrefix(line, "portal-group "))
		case strings.HasPrefix(line, "lun "):
			id, path, err := extractIDAndPath(line, "lun ")
			if err != nil {
				return fmt.Errorf("parse lun line %q: %w", raw, err)
			}
			cur.LunID = id
			cur.DevicePath = path
		case line == "}":
			if cur != nil {
				m.ISCSITargets[cur.IQN] = *cur
				cur = nil
			}
		}
	}
	return nil
}

func parseNVMeControllers(lines []string, m *Model) error {
	var cur *NVMeController
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "controller "):
			nqn, err := extractQuoted(line)
			if err != nil {
				return fmt.Errorf("parse controller line %q: %w", raw, err)
			}
			cur = &NVMeController{NQN: nqn}
		case cur == nil:
			continue
		case strings.HasPrefix(line, "auth-group "):
			cur.AuthGroup = strings.TrimSpace(strings.TrimPrefix(line, "auth-group "))
		case strings.HasPrefix(line, "transport-group "):
			cur.TransportGroup = strings.TrimSpace(strings.TrimPrefix(line, "transport-group "))
		case strings.HasPrefix(line, "namespace "):
			id, path, err := extractIDAndPath(line, "namespace ")
			if err != nil {
				return fmt.Errorf("parse namespace line %q: %w", raw, err)
			}
			cur.NamespaceID = id
			cur.DevicePath = path
		case line == "}":
			if cur != nil {
				m.NVMeControllers[cur.NQN] = *cur
				cur = nil
			}
		}
	}
	return nil
}

// extractQuoted pulls the first "..." quoted token out of a line like
// `target "iqn.2026-01.io.zvolcsi:pvc-1" {`.
func extractQuoted(line string) (string, error) {
	first := strings.IndexByte(line, '"')
	if first < 0 {
		return "", fmt.Errorf("no quoted name in %q", line)
	}
	rest := line[first+1:]
	second := strings.IndexByte(rest, '"')
	if second < 0 {
		return "", fmt.Errorf("unterminated quoted name in %q", line)
	}
	return rest[:second], nil
}

// extractIDAndPath parses `lun 0 { path "/dev/zvol/tank/pvc-1" }` (or the
// namespace equivalent) into its numeric id and device path.
func extractIDAndPath(line, prefix string) (uint32, string, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	braceIdx := strings.IndexByte(rest, '{')
	if braceIdx < 0 {
		return 0, "", fmt.Errorf("missing '{' in %q", line)
	}
	idStr := strings.TrimSpace(rest[:braceIdx])
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("invalid id %q: %w", idStr, err)
	}
	path, err := extractQuoted(rest[braceIdx:])
	if err != nil {
		return 0, "", err
	}
	return uint32(id), path, nil
}
