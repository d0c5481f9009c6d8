package probe

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Option is a functional option for configuring a Prober
type Option func(*Prober)

// WithTimeout bounds one probe of all endpoints
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithPorts sets extra ports probed on every endpoint besides its own
// control port. Format: "50010,50011" or "50010-50015". Invalid lists are
// ignored.
func WithPorts(ports string) Option {
	return func(p *Prober) {
		if validated, err := parsePorts(ports); err == nil {
			p.ports = validated
		}
	}
}

// WithTCP probes with a TCP connect scan instead of a UDP scan. The
// endpoints speak OSC over UDP, but UDP scans need raw socket privileges.
func WithTCP(enabled bool) Option {
	return func(p *Prober) {
		p.tcp = enabled
	}
}

// WithSkipHostDiscovery treats every endpoint as online (-Pn); useful on
// control networks that block ICMP
func WithSkipHostDiscovery(skip bool) Option {
	return func(p *Prober) {
		p.skipHostDiscovery = skip
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// withScanFunc replaces the nmap invocation
func withScanFunc(fn scanFunc) Option {
	return func(p *Prober) {
		p.scan = fn
	}
}

// JoinPorts renders port numbers in nmap's list format
func JoinPorts(ports []int) string {
	parts := make([]string, 0, len(ports))
	for _, port := range ports {
		parts = append(parts, strconv.Itoa(port))
	}
	return strings.Join(parts, ",")
}

// parsePorts validates a port list
// Supported: "80,443,8080" or "1-1000" or "22,80-443,8080"
func parsePorts(portRange string) (string, error) {
	if strings.TrimSpace(portRange) == "" {
		return "", fmt.Errorf("empty port list")
	}
	for _, part := range strings.Split(portRange, ",") {
		part = strings.TrimSpace(part)
		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return "", fmt.Errorf("invalid port range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil || start < 1 || start > 65535 {
				return "", fmt.Errorf("invalid port number: %s", rangeParts[0])
			}
			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil || end < 1 || end > 65535 || end < start {
				return "", fmt.Errorf("invalid port number: %s", rangeParts[1])
			}
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > 65535 {
			return "", fmt.Errorf("invalid port number: %s", part)
		}
	}
	return portRange, nil
}
