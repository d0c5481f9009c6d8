package probe

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixbridge/internal/domain"
)

func fakeRun(state string) *nmap.Run {
	return &nmap.Run{
		Hosts: []nmap.Host{
			{
				Addresses: []nmap.Address{{Addr: "10.0.0.10", AddrType: "ipv4"}},
				Status:    nmap.Status{State: "up"},
				Ports: []nmap.Port{
					{ID: 50011, Protocol: "udp", State: nmap.State{State: "closed"}},
					{ID: 50010, Protocol: "udp", State: nmap.State{State: state}, Service: nmap.Service{Name: "osc"}},
				},
			},
		},
	}
}

func TestProberOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := New()
		assert.Equal(t, DefaultTimeout, p.timeout)
		assert.False(t, p.tcp)
		assert.True(t, p.skipHostDiscovery)
		assert.Empty(t, p.ports)
	})

	t.Run("overrides", func(t *testing.T) {
		p := New(WithTimeout(time.Second), WithTCP(true), WithSkipHostDiscovery(false), WithPorts("50011-50012"))
		assert.Equal(t, time.Second, p.timeout)
		assert.True(t, p.tcp)
		assert.False(t, p.skipHostDiscovery)
		assert.Equal(t, "50011-50012", p.ports)
	})

	t.Run("invalid ports are ignored", func(t *testing.T) {
		p := New(WithPorts("50011,99999"))
		assert.Empty(t, p.ports)
	})
}

func TestParsePorts(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"50010", false},
		{"50010,50011", false},
		{"50010-50020", false},
		{"22, 50010-50020", false},
		{"", true},
		{"0", true},
		{"70000", true},
		{"50020-50010", true},
		{"1-2-3", true},
		{"osc", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := parsePorts(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJoinPorts(t *testing.T) {
	assert.Equal(t, "50010,50011", JoinPorts([]int{50010, 50011}))
	assert.Equal(t, "", JoinPorts(nil))
}

func TestProbe(t *testing.T) {
	var calls atomic.Int32
	p := New(withScanFunc(func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error) {
		calls.Add(1)
		return fakeRun("open|filtered"), nil
	}))

	endpoints := []domain.Endpoint{
		{ID: domain.EndpointPrimary, Host: "10.0.0.10", Port: 50010},
		{ID: domain.EndpointSecondary, Host: "10.0.0.11", Port: 50010},
	}
	results, err := p.Probe(context.Background(), endpoints)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int32(2), calls.Load())

	for i, res := range results {
		assert.Equal(t, endpoints[i].ID, res.Endpoint)
		assert.Equal(t, endpoints[i].Host, res.Host)
		assert.True(t, res.Up)
		assert.True(t, res.Reachable(50010))
		assert.False(t, res.Reachable(50011))
		require.Len(t, res.Ports, 2)
		assert.Equal(t, 50010, res.Ports[0].Port, "ports are sorted")
		assert.Equal(t, "osc", res.Ports[0].Service)
	}
}

func TestProbeScanFailure(t *testing.T) {
	p := New(withScanFunc(func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error) {
		return nil, errors.New("nmap: permission denied")
	}))

	results, err := p.Probe(context.Background(), []domain.Endpoint{{ID: domain.EndpointPrimary, Host: "10.0.0.10", Port: 50010}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Up)
	assert.Contains(t, results[0].Error, "permission denied")
	assert.False(t, results[0].Reachable(50010))
}

func TestProbeRequiresHost(t *testing.T) {
	p := New(withScanFunc(func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error) {
		t.Error("scan must not run")
		return nil, nil
	}))
	_, err := p.Probe(context.Background(), []domain.Endpoint{{ID: domain.EndpointSecondary, Port: 50010}})
	assert.Error(t, err)
}

func TestCollect(t *testing.T) {
	t.Run("host down", func(t *testing.T) {
		run := fakeRun("open")
		run.Hosts[0].Status.State = "down"
		var res Result
		collect(&res, run)
		assert.False(t, res.Up)
		assert.Empty(t, res.Ports)
	})

	t.Run("nil run", func(t *testing.T) {
		var res Result
		collect(&res, nil)
		assert.NotEmpty(t, res.Error)
	})

	t.Run("closed control port", func(t *testing.T) {
		res := Result{}
		collect(&res, fakeRun("closed"))
		assert.True(t, res.Up)
		assert.False(t, res.Reachable(50010))
	})
}

func TestAvailable(t *testing.T) {
	ok := New(withScanFunc(func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error) {
		return &nmap.Run{}, nil
	}))
	assert.True(t, ok.Available(context.Background()))

	missing := New(withScanFunc(func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error) {
		return nil, errors.New("nmap binary was not found")
	}))
	assert.False(t, missing.Available(context.Background()))
}
