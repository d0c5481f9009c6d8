// Package probe checks whether the endpoints' control ports are reachable
// before the bridging engine is started, using nmap.
package probe

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mixbridge/internal/domain"
)

// DefaultTimeout bounds one probe of all endpoints
const DefaultTimeout = 30 * time.Second

type scanFunc func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error)

// PortState is the observed state of one port
type PortState struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	State    string `json:"state"`
	Service  string `json:"service,omitempty"`
}

// Open reports whether the port answered or may have (UDP without reply)
func (p PortState) Open() bool {
	return p.State == "open" || p.State == "open|filtered"
}

// Result is the outcome of probing one endpoint
type Result struct {
	Endpoint domain.EndpointID `json:"endpoint"`
	Host     string            `json:"host"`
	Up       bool              `json:"up"`
	Ports    []PortState       `json:"ports,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Reachable reports whether the endpoint's control port looks usable
func (r Result) Reachable(controlPort int) bool {
	if !r.Up {
		return false
	}
	for _, p := range r.Ports {
		if p.Port == controlPort && p.Open() {
			return true
		}
	}
	return false
}

// Prober runs nmap against endpoint control ports
type Prober struct {
	timeout           time.Duration
	ports             string
	tcp               bool
	skipHostDiscovery bool
	logger            *zap.Logger
	scan              scanFunc
}

// New creates a prober
func New(opts ...Option) *Prober {
	p := &Prober{
		timeout:           DefaultTimeout,
		skipHostDiscovery: true,
		logger:            zap.NewNop(),
		scan:              runNmap,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Available checks if the nmap binary can be run
func (p *Prober) Available(ctx context.Context) bool {
	_, err := p.scan(ctx, nmap.WithTargets("localhost"), nmap.WithListScan())
	return err == nil
}

// Probe scans every endpoint concurrently. A failed scan is reported in
// that endpoint's Result; the error is only for setup failures.
func (p *Prober) Probe(ctx context.Context, endpoints []domain.Endpoint) ([]Result, error) {
	for _, ep := range endpoints {
		if ep.Host == "" {
			return nil, fmt.Errorf("%s endpoint has no host", ep.ID)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make([]Result, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		g.Go(func() error {
			results[i] = p.probeOne(gctx, ep)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Prober) probeOne(ctx context.Context, ep domain.Endpoint) Result {
	res := Result{Endpoint: ep.ID, Host: ep.Host}

	ports := strconv.Itoa(ep.Port)
	if p.ports != "" {
		ports += "," + p.ports
	}
	opts := []nmap.Option{
		nmap.WithTargets(ep.Host),
		nmap.WithPorts(ports),
	}
	if p.tcp {
		opts = append(opts, nmap.WithConnectScan())
	} else {
		opts = append(opts, nmap.WithUDPScan())
	}
	if p.skipHostDiscovery {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	p.logger.Debug("probing endpoint",
		zap.String("endpoint", string(ep.ID)),
		zap.String("host", ep.Host),
		zap.String("ports", ports),
		zap.Bool("tcp", p.tcp))

	run, err := p.scan(ctx, opts...)
	if err != nil {
		res.Error = err.Error()
		p.logger.Warn("probe failed", zap.String("endpoint", string(ep.ID)), zap.Error(err))
		return res
	}
	collect(&res, run)
	return res
}

// collect folds the scan of one host into res
func collect(res *Result, run *nmap.Run) {
	if run == nil {
		res.Error = "nil scan result"
		return
	}
	for _, host := range run.Hosts {
		if host.Status.State != "up" {
			continue
		}
		res.Up = true
		for _, port := range host.Ports {
			res.Ports = append(res.Ports, PortState{
				Port:     int(port.ID),
				Protocol: port.Protocol,
				State:    port.State.State,
				Service:  port.Service.Name,
			})
		}
	}
	sort.Slice(res.Ports, func(i, j int) bool { return res.Ports[i].Port < res.Ports[j].Port })
}

func runNmap(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error) {
	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}
	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		zap.L().Debug("nmap warnings", zap.Strings("warnings", *warnings))
	}
	return result, nil
}
