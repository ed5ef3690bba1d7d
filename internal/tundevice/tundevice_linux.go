//go:build linux

package tundevice

import (
	"fmt"
	"net"
	"os/exec"

	"github.com/songgao/water"
)

// LinuxTUN implements Device using songgao/water for Linux.
type LinuxTUN struct {
	iface *water.Interface
	name  string
}

// NewLinuxTUN creates a new TUN device on Linux. If name is empty, the OS
// assigns a name.
func NewLinuxTUN(name string) (*LinuxTUN, error) {
	config := water.Config{
		DeviceType: water.TUN,
	}
	if name != "" {
		config.Name = name
	}
	iface, err := water.New(config)
	if err != nil {
		return nil, fmt.Errorf("create TUN device: %w", err)
	}
	return &LinuxTUN{
		iface: iface,
		name:  iface.Name(),
	}, nil
}

func (d *LinuxTUN) Name() string {
	return d.name
}

func (d *LinuxTUN) Read(buf []byte) (int, error) {
	return d.iface.Read(buf)
}

func (d *LinuxTUN) Write(buf []byte) (int, error) {
	return d.iface.Write(buf)
}

func (d *LinuxTUN) SetMTU(mtu int) error {
	return exec.Command("ip", "link", "set", "dev", d.name, "mtu", fmt.Sprintf("%d", mtu)).Run()
}

func (d *LinuxTUN) AddIPAddress(ip net.IP, mask net.IPMask) error {
	ones, _ := mask.Size()
	cidr := fmt.Sprintf("%s/%d", ip.String(), ones)
	return exec.Command("ip", "addr", "add", cidr, "dev", d.name).Run()
}

func (d *LinuxTUN) SetUp() error {
	return exec.Command("ip", "link", "set", "dev", d.name, "up").Run()
}

func (d *LinuxTUN) Close() error {
	_ = exec.Command("ip", "link", "delete", d.name).Run()
	return d.iface.Close()
}
