// Package sidebar groups device names by owner for the device list.
package sidebar

import (
	"slices"
	"strings"

	devicedomain "github.com/marcelosanchez/locateme-web/internal/device/domain"
)

// UnknownOwner labels devices with no owning person.
const UnknownOwner = "Unknown"

// Group is one owner's devices.
type Group struct {
	Owner   string                    `json:"owner"`
	Devices []devicedomain.DeviceName `json:"devices"`
}

// GroupByOwner buckets names by owner. Groups keep the order in which owners first
// appear, with UnknownOwner last; within a group primary devices come first and
// the input order is otherwise preserved.
func GroupByOwner(names []devicedomain.DeviceName) []Group {
	var out []Group
	index := make(map[string]int)
	for _, n := range names {
		owner := strings.TrimSpace(n.PersonName)
		if owner == "" {
			owner = UnknownOwner
		}
		i, ok := index[owner]
		if !ok {
			i = len(out)
			index[owner] = i
			out = append(out, Group{Owner: owner})
		}
		out[i].Devices = append(out[i].Devices, n)
	}
	for i := range out {
		slices.SortStableFunc(out[i].Devices, func(a, b devicedomain.DeviceName) int {
			switch {
			case a.IsPrimary && !b.IsPrimary:
				return -1
			case !a.IsPrimary && b.IsPrimary:
				return 1
			}
			return 0
		})
	}
	slices.SortStableFunc(out, func(a, b Group) int {
		switch {
		case a.Owner == UnknownOwner && b.Owner != UnknownOwner:
			return 1
		case a.Owner != UnknownOwner && b.Owner == UnknownOwner:
			return -1
		}
		return 0
	})
	return out
}
