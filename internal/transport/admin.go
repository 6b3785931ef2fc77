//go:build linux

package transport

import (
	"fmt"

	nl "github.com/vishvananda/netlink"
)

// LinkAdmin brings CAN interfaces up and down and reports their operational
// state. Implemented by netlinkAdmin against the real kernel; tests supply
// a fake.
type LinkAdmin interface {
	IsUp(ifaceName string) (bool, error)
	SetUp(ifaceName string) error
	SetDown(ifaceName string) error
}

// NewDefaultAdmin returns the real netlink-backed LinkAdmin, for
// composition roots wiring a Transport against actual kernel interfaces.
func NewDefaultAdmin() LinkAdmin { return netlinkAdmin{} }

// netlinkAdmin is the real implementation, a thin wrapper over
// vishvananda/netlink mirroring the teacher's own Netlink struct.
type netlinkAdmin struct{}

func (netlinkAdmin) IsUp(ifaceName string) (bool, error) {
	link, err := nl.LinkByName(ifaceName)
	if err != nil {
		return false, fmt.Errorf("transport: link %q: %w", ifaceName, err)
	}
	return link.Attrs().OperState == nl.OperUp, nil
}

func (netlinkAdmin) SetUp(ifaceName string) error {
	link, err := nl.LinkByName(ifaceName)
	if err != nil {
		return fmt.Errorf("transport: link %q: %w", ifaceName, err)
	}
	return nl.LinkSetUp(link)
}

func (netlinkAdmin) SetDown(ifaceName string) error {
	link, err := nl.LinkByName(ifaceName)
	if err != nil {
		return fmt.Errorf("transport: link %q: %w", ifaceName, err)
	}
	return nl.LinkSetDown(link)
}
