// Package host reports the state of the machine the dashboard runs on:
// hostname, network reachability and CPU temperature.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	checkInterval = 5 * time.Minute
	probeAddr     = "1.1.1.1:53"
	probeTimeout  = 3 * time.Second
)

// thermalPath is a variable so tests can point it at a fixture.
var thermalPath = "/sys/class/thermal/thermal_zone0/temp"

// dialFunc is a variable so tests can inject a mock dialer.
var dialFunc = func(network, address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, address, timeout)
}

// Info is a point-in-time view of the host.
type Info struct {
	Hostname  string    `json:"hostname"`
	Version   string    `json:"version"`
	Online    bool      `json:"online"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
	CPUTempC  *float64  `json:"cpu_temp_c,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
}

// Monitor periodically probes connectivity.
type Monitor struct {
	version string
	started time.Time

	mu      sync.Mutex
	online  bool
	checked time.Time
}

// NewMonitor returns a monitor reporting version.
func NewMonitor(version string) *Monitor {
	return &Monitor{version: version, started: time.Now()}
}

// Hostname returns the system hostname, or "inkdash" when it is unknown.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "inkdash"
	}
	return h
}

// Run checks connectivity now and every five minutes until ctx is done.
// Changes are logged.
func (m *Monitor) Run(ctx context.Context) {
	m.check()
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *Monitor) check() {
	conn, err := dialFunc("tcp", probeAddr, probeTimeout)
	online := err == nil
	if conn != nil {
		conn.Close()
	}

	m.mu.Lock()
	changed := m.checked.IsZero() || online != m.online
	m.online = online
	m.checked = time.Now()
	m.mu.Unlock()

	if changed {
		slog.Info("host: network status", "online", online)
	}
}

// Info returns the current host view.
func (m *Monitor) Info() Info {
	m.mu.Lock()
	online, checked := m.online, m.checked
	m.mu.Unlock()

	info := Info{
		Hostname:  Hostname(),
		Version:   m.version,
		Online:    online,
		CheckedAt: checked,
		StartedAt: m.started,
		Uptime:    time.Since(m.started).Round(time.Second).String(),
	}
	if t, err := CPUTemp(); err == nil {
		info.CPUTempC = &t
	}
	return info
}

// CPUTemp reads the SoC temperature in degrees Celsius.
func CPUTemp() (float64, error) {
	data, err := os.ReadFile(thermalPath)
	if err != nil {
		return 0, fmt.Errorf("host: read %s: %w", thermalPath, err)
	}
	millideg, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("host: parse temperature: %w", err)
	}
	return float64(millideg) / 1000.0, nil
}
