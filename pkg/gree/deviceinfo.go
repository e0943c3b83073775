package gree

import (
	"fmt"
	"net"
	"strconv"
)

// DeviceInfo identifies a physical unit on the network.
type DeviceInfo struct {
	IP      string
	Port    int
	MAC     string
	Name    string
	Brand   string
	Model   string
	Version string
}

// NewDeviceInfo returns a DeviceInfo for a unit at ip with the given mac.
// A zero port selects DefaultPort.
func NewDeviceInfo(ip string, port int, mac string) *DeviceInfo {
	if port == 0 {
		port = DefaultPort
	}
	return &DeviceInfo{IP: ip, Port: port, MAC: mac}
}

// Addr returns the UDP address of the unit.
func (d *DeviceInfo) Addr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", net.JoinHostPort(d.IP, strconv.Itoa(d.Port)))
}

// Equal compares by MAC and IP.
func (d *DeviceInfo) Equal(o *DeviceInfo) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.MAC == o.MAC && d.IP == o.IP
}

func (d *DeviceInfo) String() string {
	if d == nil {
		return "<unknown device>"
	}
	return fmt.Sprintf("Device: %s @ %s:%d (mac: %s)", d.Name, d.IP, d.Port, d.MAC)
}

func deviceInfoFromPack(pack *Pack, addr net.Addr) (*DeviceInfo, error) {
	mac := pack.MAC
	if mac == "" {
		mac = pack.CID
	}
	if mac == "" {
		return nil, fmt.Errorf("%w: scan response without mac", ErrParse)
	}
	info := &DeviceInfo{
		Port:    DefaultPort,
		MAC:     mac,
		Name:    pack.Name,
		Brand:   pack.Brand,
		Model:   pack.Model,
		Version: pack.Ver,
	}
	if udp, ok := addr.(*net.UDPAddr); ok && udp != nil {
		info.IP = udp.IP.String()
		info.Port = udp.Port
	}
	return info, nil
}
