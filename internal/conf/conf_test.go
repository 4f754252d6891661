package conf

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConf(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.ini")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write test conf: %v", err)
	}
	return path
}

const minimalConf = `
[coding]
max_block_size = 65540
encode_threshold = 30000

[tun]
address = 10.0.85.1/24

[config]
route_count = 2

[route0]
destination = 0.0.0.0
mask = 0
nexthop = 10.0.0.2
metric = 0

[route1]
destination = 192.168.1.0
mask = 24
nexthop = 10.0.0.3
metric = 1
`

func TestLoadFromFileParsesCodingTunAndRoutes(t *testing.T) {
	path := writeTestConf(t, minimalConf)
	c, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if c.Coding.MaxBlockSize != 65540 || c.Coding.EncodeThreshold != 30000 {
		t.Fatalf("unexpected coding config: %+v", c.Coding)
	}
	if c.Tun.Address != "10.0.85.1/24" {
		t.Fatalf("unexpected tun address: %q", c.Tun.Address)
	}
	if len(c.Routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(c.Routes))
	}
	if c.Routes[1].Destination != "192.168.1.0" || c.Routes[1].Mask != 24 {
		t.Fatalf("unexpected route1: %+v", c.Routes[1])
	}
	if c.Transport.Protocol != "udp" {
		t.Fatalf("expected default transport protocol udp, got %q", c.Transport.Protocol)
	}
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := writeTestConf(t, "[tun]\naddress = 10.0.85.1/24\n")
	c, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if c.Coding.MaxBlockSize != 65540 {
		t.Fatalf("expected default max_block_size, got %d", c.Coding.MaxBlockSize)
	}
	if c.Coding.EncodeThreshold != 30000 {
		t.Fatalf("expected default encode_threshold, got %d", c.Coding.EncodeThreshold)
	}
	if c.Tun.MTU != 1500 {
		t.Fatalf("expected default mtu 1500, got %d", c.Tun.MTU)
	}
}

func TestLoadFromFileRejectsInvalidTunAddress(t *testing.T) {
	path := writeTestConf(t, "[tun]\naddress = not-a-cidr\n")
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected an error for an invalid tun.address")
	}
}

func TestLoadFromFileRejectsMismatchedRouteCount(t *testing.T) {
	path := writeTestConf(t, "[tun]\naddress = 10.0.85.1/24\n\n[config]\nroute_count = 1\n")
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected an error for a route_count with no matching [routeN] section")
	}
}

func TestLoadFromFileRejectsMissingFile(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.ini")); err == nil {
		t.Fatal("expected an error loading a nonexistent file")
	}
}
