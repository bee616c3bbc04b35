package ctlconfig

import (
	"fmt"
	"regexp"
)

var groupDeclRE = regexp.MustCompile(`(?m)^\s*(?:portal-group|transport-group)\s+(\S+)\s*\{`)

// ValidateGroupsExist checks that every portal-group/transport-group name
// referenced by the managed entries in model actually has a corresponding
// group block declared somewhere in preservedContent (the operator-owned
// region of the config file). Absence is a startup error.
func ValidateGroupsExist(preservedContent string, model *Model) error {
	declared := make(map[string]bool)
	for _, match := range groupDeclRE.FindAllStringSubmatch(preservedContent, -1) {
		declared[match[1]] = true
	}

	for iqn, t := range model.ISCSITargets {
		if !declared[t.PortalGroup] {
			return fmt.Errorf("iscsi target %q references undeclared portal-group %q", iqn, t.PortalGroup)
		}
	}
	for nqn, c := range model.NVMeControllers {
		if !declared[c.TransportGroup] {
			return fmt.Errorf("nvme controller %q references undeclared transport-group %q", nqn, c.TransportGroup)
		}
	}
	return nil
}
