package conf

import (
	"fmt"
	"net/netip"
)

// Tun configures the tunnel device: [tun] address, name, and mtu.
type Tun struct {
	Name    string `ini:"name"`
	Address string `ini:"address"`
	MTU     int    `ini:"mtu"`
}

func (t *Tun) setDefaults() {
	if t.Name == "" {
		t.Name = "bats0"
	}
	if t.MTU == 0 {
		t.MTU = 1500
	}
}

func (t *Tun) validate() []error {
	var errors []error
	if _, err := netip.ParsePrefix(t.Address); err != nil {
		errors = append(errors, fmt.Errorf("tun.address: invalid CIDR %q: %v", t.Address, err))
	}
	if t.MTU < 576 || t.MTU > 65535 {
		errors = append(errors, fmt.Errorf("tun.mtu: must be between 576 and 65535, got %d", t.MTU))
	}
	return errors
}
