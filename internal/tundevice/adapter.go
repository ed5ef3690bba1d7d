package tundevice

import "github.com/kobuchi/wgcore/internal/tunnel"

// Adapter wraps a Device as a tunnel.Tunnel, the interface the Peer Server
// actually consumes. Kept separate from Device so tests can exercise Device
// implementations without depending on the core's tunnel package, and vice
// versa.
type Adapter struct {
	Device Device
	mtu    int
}

// NewAdapter wraps dev, sizing its Read buffer to mtu.
func NewAdapter(dev Device, mtu int) *Adapter {
	return &Adapter{Device: dev, mtu: mtu}
}

func (a *Adapter) Read() ([]byte, error) {
	buf := make([]byte, a.mtu)
	n, err := a.Device.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (a *Adapter) Write(packet []byte) error {
	_, err := a.Device.Write(packet)
	return err
}

func (a *Adapter) Close() error {
	return a.Device.Close()
}

var _ tunnel.Tunnel = (*Adapter)(nil)
