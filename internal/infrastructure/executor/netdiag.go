package executor

import (
	"context"
	"net"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doeshing/cmdrelay/internal/domain"
)

// ProbeResult is one TCP or DNS check.
type ProbeResult struct {
	Target    string   `json:"target"`
	Kind      string   `json:"kind"`
	OK        bool     `json:"ok"`
	LatencyMS int64    `json:"latency_ms"`
	Addresses []string `json:"addresses,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// DiagReport is the netdiag builtin output.
type DiagReport struct {
	Timestamp  string        `json:"timestamp"`
	Interfaces []string      `json:"interfaces"`
	Probes     []ProbeResult `json:"probes"`
	Healthy    bool          `json:"healthy"`
}

// Diagnoser probes configured TCP endpoints and DNS names concurrently.
type Diagnoser struct {
	tcpTargets []string
	dnsNames   []string
	timeout    time.Duration

	dialer   *net.Dialer
	resolver *net.Resolver
}

// NewDiagnoser builds a Diagnoser from the diagnostics config section.
func NewDiagnoser(cfg domain.DiagnosticsSettings) *Diagnoser {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultDiagnosticsTimeout
	}
	return &Diagnoser{
		tcpTargets: append([]string(nil), cfg.TCPTargets...),
		dnsNames:   append([]string(nil), cfg.DNSNames...),
		timeout:    timeout,
		dialer:     &net.Dialer{Timeout: timeout},
		resolver:   net.DefaultResolver,
	}
}

// Run executes every probe. Individual failures are reported, never returned.
func (d *Diagnoser) Run(ctx context.Context) DiagReport {
	results := make([]ProbeResult, len(d.tcpTargets)+len(d.dnsNames))

	g, gctx := errgroup.WithContext(ctx)
	for i, target := range d.tcpTargets {
		i, target := i, target
		g.Go(func() error {
			results[i] = d.probeTCP(gctx, target)
			return nil
		})
	}
	offset := len(d.tcpTargets)
	for i, name := range d.dnsNames {
		i, name := i, name
		g.Go(func() error {
			results[offset+i] = d.probeDNS(gctx, name)
			return nil
		})
	}
	_ = g.Wait()

	healthy := len(results) > 0
	for _, r := range results {
		if !r.OK {
			healthy = false
		}
	}
	return DiagReport{
		Timestamp:  time.Now().Format(domain.TimestampFormat),
		Interfaces: interfaceNames(),
		Probes:     results,
		Healthy:    healthy,
	}
}

func (d *Diagnoser) probeTCP(ctx context.Context, target string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := time.Now()
	conn, err := d.dialer.DialContext(ctx, "tcp", target)
	result := ProbeResult{Target: target, Kind: "tcp", LatencyMS: time.Since(started).Milliseconds()}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	_ = conn.Close()
	result.OK = true
	return result
}

func (d *Diagnoser) probeDNS(ctx context.Context, name string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := time.Now()
	addrs, err := d.resolver.LookupHost(ctx, name)
	result := ProbeResult{Target: name, Kind: "dns", LatencyMS: time.Since(started).Milliseconds()}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	sort.Strings(addrs)
	result.Addresses = addrs
	result.OK = true
	return result
}

func interfaceNames() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		names = append(names, iface.Name)
	}
	return names
}
