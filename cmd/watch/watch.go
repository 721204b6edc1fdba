// Package watch implements the interactive telemetry observer: it connects
// to a node's telemetry port and pretty-prints the live event stream.
package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"exomon/internal/telemetry"
	"exomon/pkg/config"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorCyan   = "\033[36m"
)

type printer struct {
	color  bool
	counts map[telemetry.EventType]int
}

// Run connects to the telemetry address from config and streams events
// until the connection drops or the user interrupts.
func Run(configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	conn, err := net.Dial("tcp", cfg.Watch.Address)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Watch.Address, err)
	}
	defer conn.Close()

	p := &printer{
		color:  term.IsTerminal(int(os.Stdout.Fd())),
		counts: make(map[telemetry.EventType]int),
	}

	// Ctrl-C closes the connection, which unblocks the read loop.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev telemetry.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			fmt.Printf("?? unparseable event: %s\n", line)
			continue
		}

		p.counts[ev.Type]++
		p.print(ev)
	}

	p.printStats()
	return nil
}

func (p *printer) print(ev telemetry.Event) {
	ts := ev.Timestamp.Local().Format("15:04:05")

	switch ev.Type {
	case telemetry.EventWelcome:
		fmt.Printf("connected to %s v%s [%s]\n", ev.Data["server"], ev.Data["version"], ev.Data["capabilities"])

	case telemetry.EventLog:
		level := ev.Data["level"]
		line := fmt.Sprintf("[%s] [%s] %s", ts, level, ev.Data["message"])
		switch {
		case ev.Data["is_error"] == "true":
			p.println(colorRed, line)
		case level == "warn" || level == "warning":
			p.println(colorYellow, line)
		default:
			fmt.Println(line)
		}

	case telemetry.EventMetrics:
		p.println(colorCyan, fmt.Sprintf("[%s] cpu %s%% | mem %s%% | disk %s%% | gpu %s%% | web %s | api %s",
			ts, ev.Data["cpu"], ev.Data["memory"], ev.Data["disk"], ev.Data["gpu"],
			upDown(ev.Data["web_interface_accessible"]), upDown(ev.Data["api_endpoint_accessible"])))

	case telemetry.EventServiceStatus:
		state := "stopped"
		if ev.Data["is_running"] == "true" {
			state = "running"
		} else if ev.Data["is_installed"] != "true" {
			state = "not installed"
		}
		line := fmt.Sprintf("[%s] service: %s", ts, state)
		if ev.Data["last_error"] != "" {
			line += " (" + ev.Data["last_error"] + ")"
		}
		p.println(colorGreen, line)

	case telemetry.EventDiscovery:
		fmt.Printf("[%s] discovery: node %s %s (%s) | %s nodes total\n",
			ts, ev.Data["node_name"], ev.Data["change"], ev.Data["address"], ev.Data["discovered_nodes_count"])

	case telemetry.EventDebug:
		fmt.Printf("[%s] [%s] %s\n", ts, ev.Data["source"], ev.Data["message"])

	default:
		fmt.Printf("[%s] unknown event type: %s\n", ts, ev.Type)
	}
}

func (p *printer) println(color, line string) {
	if p.color {
		fmt.Println(color + line + colorReset)
		return
	}
	fmt.Println(line)
}

func (p *printer) printStats() {
	total := 0
	for _, n := range p.counts {
		total += n
	}
	fmt.Printf("\n%d events received", total)
	for _, t := range []telemetry.EventType{
		telemetry.EventLog,
		telemetry.EventMetrics,
		telemetry.EventServiceStatus,
		telemetry.EventDiscovery,
		telemetry.EventDebug,
	} {
		if n := p.counts[t]; n > 0 {
			fmt.Printf(" | %s: %d", t, n)
		}
	}
	fmt.Println()
}

func upDown(s string) string {
	if s == "true" {
		return "up"
	}
	return "down"
}
