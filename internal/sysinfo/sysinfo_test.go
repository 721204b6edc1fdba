package sysinfo

import (
	"net"
	"testing"
)

func TestCollect(t *testing.T) {
	info, err := Collect()
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if info.Hostname == "" {
		t.Error("Hostname is empty")
	}
	if info.MemoryBytes == 0 {
		t.Error("MemoryBytes is zero")
	}

	t.Logf("Collected: host=%s ip=%s mem=%d accel=%q", info.Hostname, info.IPAddress, info.MemoryBytes, info.Accelerator)
}

func TestCollect_Capabilities(t *testing.T) {
	info, err := Collect()
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	has := func(want string) bool {
		for _, c := range info.Capabilities {
			if c == want {
				return true
			}
		}
		return false
	}

	if !has("api") {
		t.Errorf("capabilities missing api: %v", info.Capabilities)
	}
	if !has("web_interface") {
		t.Errorf("capabilities missing web_interface: %v", info.Capabilities)
	}
}

func TestCapabilities_AppleSilicon(t *testing.T) {
	caps := capabilities("Apple Silicon")
	if caps[0] != "mlx" {
		t.Errorf("expected mlx first for Apple Silicon, got %v", caps)
	}

	caps = capabilities("")
	for _, c := range caps {
		if c == "mlx" {
			t.Errorf("unexpected mlx without accelerator: %v", caps)
		}
	}
}

func TestPrimaryIPv4(t *testing.T) {
	ip := primaryIPv4()
	if ip == "" {
		t.Skip("no non-loopback interface available")
	}
	if net.ParseIP(ip) == nil {
		t.Errorf("invalid IP collected: %s", ip)
	}
}
