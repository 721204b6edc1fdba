// Package sysinfo collects local hardware metadata for the self-announcement.
package sysinfo

import (
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo holds everything a node advertises about itself.
type SystemInfo struct {
	Hostname     string
	IPAddress    string
	MemoryBytes  uint64
	Platform     string
	Accelerator  string
	Capabilities []string
}

// Collect gathers local system information for the announcement payload.
func Collect() (*SystemInfo, error) {
	hostname, _ := os.Hostname()

	info := &SystemInfo{
		Hostname:  hostname,
		IPAddress: primaryIPv4(),
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.MemoryBytes = memInfo.Total
	}

	if hostInfo, err := host.Info(); err == nil {
		info.Platform = hostInfo.Platform
		if hostInfo.PlatformVersion != "" {
			info.Platform += " " + hostInfo.PlatformVersion
		}
	} else {
		info.Platform = runtime.GOOS
	}

	info.Accelerator = detectAccelerator()
	info.Capabilities = capabilities(info.Accelerator)

	return info, nil
}

// primaryIPv4 returns the IPv4 address of the first up, non-loopback interface.
func primaryIPv4() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}

	return ""
}

// detectAccelerator returns a human-readable accelerator label, or empty when
// no accelerator is recognised. Detection is heuristic: Apple Silicon by
// platform, otherwise the CPU model when it names a known GPU vendor.
func detectAccelerator() string {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "Apple Silicon"
	}

	cpuInfo, err := cpu.Info()
	if err != nil || len(cpuInfo) == 0 {
		return ""
	}
	model := cpuInfo[0].ModelName
	for _, vendor := range []string{"NVIDIA", "AMD Radeon"} {
		if strings.Contains(model, vendor) {
			return model
		}
	}
	return ""
}

// capabilities derives the advertised capability set. Every node serves the
// API and web interface; MLX is only available on Apple Silicon.
func capabilities(accelerator string) []string {
	caps := []string{"api", "web_interface"}
	if accelerator == "Apple Silicon" {
		caps = append([]string{"mlx"}, caps...)
	}
	return caps
}
