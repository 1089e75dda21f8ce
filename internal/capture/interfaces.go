package capture

import (
	"errors"
	"fmt"

	"github.com/google/gopacket/pcap"
)

// libpcap pcap_if_t flag bits.
const (
	pcapIfLoopback = 0x00000001
	pcapIfUp       = 0x00000002
)

// Interface describes one capture device as libpcap reports it.
type Interface struct {
	Name        string
	Description string
	Loopback    bool
	Up          bool
	HasIPv4     bool
}

// ErrNoInterfaces is returned when libpcap reports no usable devices,
// typically for lack of capture permissions.
var ErrNoInterfaces = errors.New("no interfaces found")

// ListInterfaces enumerates capture devices.
func ListInterfaces() ([]Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	ifaces := make([]Interface, 0, len(devs))
	for _, dev := range devs {
		iface := Interface{
			Name:        dev.Name,
			Description: dev.Description,
			Loopback:    dev.Flags&pcapIfLoopback != 0,
			Up:          dev.Flags&pcapIfUp != 0,
		}
		for _, addr := range dev.Addresses {
			if addr.IP != nil && addr.IP.To4() != nil {
				iface.HasIPv4 = true
				break
			}
		}
		ifaces = append(ifaces, iface)
	}
	return ifaces, nil
}

// AutoDetect picks the interface a user most likely wants to watch.
func AutoDetect() (string, error) {
	ifaces, err := ListInterfaces()
	if err != nil {
		return "", err
	}
	return selectInterface(ifaces)
}

// selectInterface prefers an up, non-loopback device with an IPv4 address,
// then any up non-loopback device, then whatever is first.
func selectInterface(ifaces []Interface) (string, error) {
	for _, iface := range ifaces {
		if iface.Up && !iface.Loopback && iface.HasIPv4 {
			return iface.Name, nil
		}
	}
	for _, iface := range ifaces {
		if iface.Up && !iface.Loopback {
			return iface.Name, nil
		}
	}
	if len(ifaces) > 0 {
		return ifaces[0].Name, nil
	}
	return "", ErrNoInterfaces
}
