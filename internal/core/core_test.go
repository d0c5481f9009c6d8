package core

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixbridge/internal/bridging"
	"mixbridge/internal/domain"
	"mixbridge/internal/engine"
	"mixbridge/internal/metrics"
)

const coreDoc = `
engine:
  poll_interval_ms: 50
topology:
  mode: extend
endpoints:
  primary:
    protocol: ds100-primary
    host: 10.0.0.10
    port: 50010
    capacity: 64
  secondary:
    protocol: ds100-secondary
    host: 10.0.0.11
    port: 50010
    capacity: 64
protocols:
  osc-1:
    type: generic_osc
    host: 10.0.0.40
    port: 50020
    muted:
      sound_object: [3]
  rttrpm-1:
    type: rttrpm
    port: 24100
`

func newTestCore(t *testing.T, opts ...Option) (*Core, *engine.Loopback) {
	t.Helper()
	eng := engine.NewLoopback(nil)
	doc, err := bridging.ParseDocument([]byte(coreDoc))
	require.NoError(t, err)
	require.True(t, eng.ApplyConfig(doc))

	opts = append([]Option{WithMetrics(metrics.New(prometheus.NewRegistry()))}, opts...)
	c, err := New(eng, opts...)
	require.NoError(t, err)
	return c, eng
}

func createAt(t *testing.T, c *Core, kind domain.ProcessorKind, addr int) domain.ProcessorID {
	t.Helper()
	id, err := c.CreateEntity(kind)
	require.NoError(t, err)
	_, err = c.SetDomainAddress(domain.ObserverEditor, id, addr)
	require.NoError(t, err)
	return id
}

func popAll(c *Core) {
	for o := domain.Observer(0); o < domain.NumObservers; o++ {
		c.Pop(o, domain.ChangeAll)
	}
}

func assertNoMarks(t *testing.T, c *Core) {
	t.Helper()
	for o := domain.Observer(0); o < domain.NumObservers; o++ {
		assert.False(t, c.Peek(o, domain.ChangeAll), "%s has unseen changes", o)
	}
}

func TestCoreCreateSubscribes(t *testing.T) {
	c, _ := newTestCore(t)
	events := make(chan Event, 8)
	c.Events().Subscribe(events)

	id := createAt(t, c, domain.KindSoundObject, 65)

	subs, err := c.Subscriptions()
	require.NoError(t, err)
	assert.Equal(t, []int{1}, subs.Addresses(domain.EndpointSecondary, domain.KindSoundObject))
	assert.Empty(t, subs.Addresses(domain.EndpointPrimary, domain.KindSoundObject))
	assert.True(t, c.Pop(domain.ObserverOverview, domain.ChangeNumProcessors))
	assert.Equal(t, EventEntityCreated, (<-events).Type)

	require.NoError(t, c.DestroyEntity(id))
	subs, err = c.Subscriptions()
	require.NoError(t, err)
	assert.Zero(t, subs.Count(domain.EndpointSecondary))
	assert.ErrorIs(t, c.DestroyEntity(id), domain.ErrUnknownEntity)
}

func TestCoreCreateRejected(t *testing.T) {
	c, eng := newTestCore(t)
	eng.RejectConfig(true)

	_, err := c.CreateEntity(domain.KindMatrixInput)
	assert.ErrorIs(t, err, domain.ErrEngineRejected)
	assert.Empty(t, c.Entities())
}

func TestCoreSetDomainAddress(t *testing.T) {
	c, eng := newTestCore(t)
	id, err := c.CreateEntity(domain.KindSoundObject)
	require.NoError(t, err)

	t.Run("rejects non-positive", func(t *testing.T) {
		_, err := c.SetDomainAddress(domain.ObserverEditor, id, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	})

	t.Run("clamps to extended range", func(t *testing.T) {
		e, err := c.SetDomainAddress(domain.ObserverEditor, id, 500)
		require.NoError(t, err)
		assert.Equal(t, 128, e.Address)
		assert.Equal(t, domain.ObserverEditor, c.LastWriter(domain.ChangeDomainAddress))
	})

	t.Run("rejected push keeps the address", func(t *testing.T) {
		eng.RejectConfig(true)
		defer eng.RejectConfig(false)
		_, err := c.SetDomainAddress(domain.ObserverEditor, id, 10)
		assert.ErrorIs(t, err, domain.ErrEngineRejected)
		e, err := c.Entity(id)
		require.NoError(t, err)
		assert.Equal(t, 128, e.Address)
	})

	t.Run("unknown entity", func(t *testing.T) {
		_, err := c.SetDomainAddress(domain.ObserverEditor, 999, 4)
		assert.ErrorIs(t, err, domain.ErrUnknownEntity)
	})
}

func TestCoreComsModeMovesSubscriptions(t *testing.T) {
	c, _ := newTestCore(t)
	id := createAt(t, c, domain.KindMatrixOutput, 5)

	require.NoError(t, c.SetComsMode(domain.ObserverEditor, id, domain.ComsTx))
	subs, err := c.Subscriptions()
	require.NoError(t, err)
	assert.Empty(t, subs.Addresses(domain.EndpointPrimary, domain.KindMatrixOutput))

	require.NoError(t, c.SetComsMode(domain.ObserverEditor, id, domain.ComsTxRx))
	subs, err = c.Subscriptions()
	require.NoError(t, err)
	assert.Equal(t, []int{5}, subs.Addresses(domain.EndpointPrimary, domain.KindMatrixOutput))
}

func TestCoreParameterEchoIsConfirmation(t *testing.T) {
	c, eng := newTestCore(t)
	id := createAt(t, c, domain.KindSoundObject, 65)
	c.Pop(domain.ObserverEditor, domain.ChangeAll)

	report, err := c.SetParameter(domain.ObserverEditor, id, "position_xy", []float64{0.25, 0.75})
	require.NoError(t, err)
	assert.True(t, report.Complete())
	require.Len(t, eng.SentTo(domain.ProtocolSecondary), 1)
	assert.True(t, c.InTransit(domain.ChangeParameterValue))
	assert.True(t, c.Pop(domain.ObserverEditor, domain.ChangeParameterValue))

	eng.Receive(domain.ProtocolSecondary, domain.Message{Kind: domain.KindSoundObject, Address: 1, Parameter: "position_xy", Values: []float64{0.25, 0.75}})
	assert.False(t, c.Peek(domain.ObserverEditor, domain.ChangeParameterValue), "echo of our own write")

	c.Tick()
	assert.False(t, c.InTransit(domain.ChangeParameterValue))

	eng.Receive(domain.ProtocolSecondary, domain.Message{Kind: domain.KindSoundObject, Address: 1, Parameter: "position_xy", Values: []float64{0.5, 0.5}})
	assert.True(t, c.Pop(domain.ObserverEditor, domain.ChangeParameterValue))
	assert.Equal(t, domain.ObserverProtocol, c.LastWriter(domain.ChangeParameterValue))

	e, err := c.Entity(id)
	require.NoError(t, err)
	v, ok := e.Value("position_xy")
	require.True(t, ok)
	assert.Equal(t, []float64{0.5, 0.5}, v)
}

func TestCoreParallelInactiveEndpointUpdatesState(t *testing.T) {
	c, eng := newTestCore(t)
	id := createAt(t, c, domain.KindSoundObject, 9)
	require.NoError(t, c.SetTopologyMode(domain.TopologyParallel))

	_, err := c.SetParameter(domain.ObserverEditor, id, "spread", []float64{0.5})
	require.NoError(t, err)
	require.True(t, c.InTransit(domain.ChangeParameterValue))
	c.Pop(domain.ObserverEditor, domain.ChangeAll)

	eng.Receive(domain.ProtocolSecondary, domain.Message{Kind: domain.KindSoundObject, Address: 9, Parameter: "spread", Values: []float64{1}})
	assert.True(t, c.Pop(domain.ObserverEditor, domain.ChangeParameterValue), "inactive endpoint cannot confirm")
	assert.Equal(t, domain.ObserverProtocol, c.LastWriter(domain.ChangeParameterValue))
	e, err := c.Entity(id)
	require.NoError(t, err)
	v, ok := e.Value("spread")
	require.True(t, ok)
	assert.Equal(t, []float64{1}, v)

	eng.Receive(domain.ProtocolPrimary, domain.Message{Kind: domain.KindSoundObject, Address: 9, Parameter: "spread", Values: []float64{0.5}})
	assert.False(t, c.Peek(domain.ObserverEditor, domain.ChangeParameterValue), "active endpoint confirms")
	e, err = c.Entity(id)
	require.NoError(t, err)
	v, _ = e.Value("spread")
	assert.Equal(t, []float64{0.5}, v)
}

func TestCoreMirrorMasterConfirmsSlaveUpdates(t *testing.T) {
	c, eng := newTestCore(t)
	id := createAt(t, c, domain.KindMatrixOutput, 9)
	require.NoError(t, c.SetTopologyMode(domain.TopologyMirror))
	eng.SetLiveness(domain.ProtocolPrimary, domain.LivenessMaster)
	eng.SetLiveness(domain.ProtocolSecondary, domain.LivenessSlave)

	_, err := c.SetParameter(domain.ObserverEditor, id, "gain", []float64{-3})
	require.NoError(t, err)
	require.Len(t, eng.SentTo(domain.ProtocolPrimary), 1)
	require.Len(t, eng.SentTo(domain.ProtocolSecondary), 1)
	c.Pop(domain.ObserverEditor, domain.ChangeAll)

	t.Run("slave echo is external", func(t *testing.T) {
		eng.Receive(domain.ProtocolSecondary, domain.Message{Kind: domain.KindMatrixOutput, Address: 9, Parameter: "gain", Values: []float64{-4}})
		assert.True(t, c.Pop(domain.ObserverEditor, domain.ChangeParameterValue))
		e, err := c.Entity(id)
		require.NoError(t, err)
		v, _ := e.Value("gain")
		assert.Equal(t, []float64{-4}, v)
	})

	t.Run("master echo is a confirmation", func(t *testing.T) {
		eng.Receive(domain.ProtocolPrimary, domain.Message{Kind: domain.KindMatrixOutput, Address: 9, Parameter: "gain", Values: []float64{-3}})
		assert.False(t, c.Peek(domain.ObserverEditor, domain.ChangeParameterValue))
		e, err := c.Entity(id)
		require.NoError(t, err)
		v, _ := e.Value("gain")
		assert.Equal(t, []float64{-3}, v)
	})
}

func TestCoreSetParameterUnroutableAddress(t *testing.T) {
	c, eng := newTestCore(t)
	id := createAt(t, c, domain.KindSoundObject, 100)
	require.NoError(t, c.SetTopologyMode(domain.TopologyParallel))
	popAll(c)
	eng.ClearSent()

	_, err := c.SetParameter(domain.ObserverEditor, id, "position_xy", []float64{0.1, 0.2})
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	e, err := c.Entity(id)
	require.NoError(t, err)
	_, ok := e.Value("position_xy")
	assert.False(t, ok)
	assert.False(t, c.InTransit(domain.ChangeParameterValue))
	assert.Empty(t, eng.Sent())
	assertNoMarks(t, c)
}

func TestCoreRejectedPushLeavesTrackerIntact(t *testing.T) {
	c, eng := newTestCore(t)
	id := createAt(t, c, domain.KindSoundObject, 5)
	kinds := []domain.ChangeKind{domain.ChangeNumProcessors, domain.ChangeDomainAddress, domain.ChangeComsMode}
	writers := make(map[domain.ChangeKind]domain.Observer, len(kinds))
	for _, k := range kinds {
		writers[k] = c.LastWriter(k)
	}

	tests := []struct {
		name string
		run  func() error
	}{
		{"create", func() error {
			_, err := c.CreateEntity(domain.KindMatrixInput)
			return err
		}},
		{"address", func() error {
			_, err := c.SetDomainAddress(domain.ObserverProtocol, id, 20)
			return err
		}},
		{"coms mode", func() error {
			return c.SetComsMode(domain.ObserverProtocol, id, domain.ComsTx)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			popAll(c)
			eng.RejectConfig(true)
			defer eng.RejectConfig(false)

			assert.ErrorIs(t, tt.run(), domain.ErrEngineRejected)
			assertNoMarks(t, c)
			for _, k := range kinds {
				assert.Equal(t, writers[k], c.LastWriter(k), k.String())
			}
			require.Len(t, c.Entities(), 1)
			e, err := c.Entity(id)
			require.NoError(t, err)
			assert.Equal(t, 5, e.Address)
			assert.Equal(t, domain.ComsTxRx, e.ComsMode)
		})
	}
}

func TestCoreUnknownEntityMutatesNothing(t *testing.T) {
	c, _ := newTestCore(t)
	keep := createAt(t, c, domain.KindSoundObject, 3)
	gone := createAt(t, c, domain.KindSoundObject, 8)
	require.NoError(t, c.DestroyEntity(gone))
	popAll(c)
	before, err := c.Snapshot()
	require.NoError(t, err)

	t.Run("set domain address", func(t *testing.T) {
		_, err := c.SetDomainAddress(domain.ObserverEditor, gone, 4)
		assert.ErrorIs(t, err, domain.ErrUnknownEntity)
	})

	t.Run("set coms mode", func(t *testing.T) {
		assert.ErrorIs(t, c.SetComsMode(domain.ObserverEditor, gone, domain.ComsRx), domain.ErrUnknownEntity)
	})

	t.Run("set parameter", func(t *testing.T) {
		_, err := c.SetParameter(domain.ObserverEditor, gone, "gain", []float64{0})
		assert.ErrorIs(t, err, domain.ErrUnknownEntity)
	})

	t.Run("set muted", func(t *testing.T) {
		_, err := c.SetMuted(domain.ObserverEditor, "rttrpm-1", []domain.ProcessorID{keep, gone}, true)
		assert.ErrorIs(t, err, domain.ErrUnknownEntity)
		muted, err := c.IsMuted("rttrpm-1", keep)
		require.NoError(t, err)
		assert.False(t, muted, "valid ids in a rejected batch stay unmuted")
		addrs, err := c.Muted("rttrpm-1", domain.KindSoundObject)
		require.NoError(t, err)
		assert.Empty(t, addrs)
	})

	assertNoMarks(t, c)
	after, err := c.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCoreParallelPartialSend(t *testing.T) {
	c, eng := newTestCore(t)
	id := createAt(t, c, domain.KindMatrixInput, 2)
	require.NoError(t, c.SetTopologyMode(domain.TopologyParallel))
	eng.FailSends(domain.ProtocolSecondary, true)

	report, err := c.SetParameter(domain.ObserverEditor, id, "gain", []float64{-6})
	assert.ErrorIs(t, err, domain.ErrEngineRejected)
	assert.True(t, report.Partial())
	assert.Len(t, eng.SentTo(domain.ProtocolPrimary), 1)
}

func TestCoreModeSwitchEmitsOnce(t *testing.T) {
	c, _ := newTestCore(t)
	events := make(chan Event, 4)
	c.Events().Subscribe(events)
	id := createAt(t, c, domain.KindSoundObject, 1)
	_, err := c.SetParameter(domain.ObserverEditor, id, "gain", []float64{0})
	require.NoError(t, err)
	c.Pop(domain.ObserverMultislider, domain.ChangeAll)
	for len(events) > 0 {
		<-events
	}

	require.NoError(t, c.SetTopologyMode(domain.TopologyDisabled))
	assert.False(t, c.InTransit(domain.ChangeAll))
	assert.True(t, c.Pop(domain.ObserverMultislider, domain.ChangeExtensionMode))
	assert.False(t, c.Peek(domain.ObserverMultislider, domain.ChangeAll))
	require.Len(t, events, 1)
	assert.Equal(t, EventTopologyChanged, (<-events).Type)

	subs, err := c.Subscriptions()
	require.NoError(t, err)
	assert.Zero(t, subs.Count(domain.EndpointSecondary))
}

func TestCoreMutes(t *testing.T) {
	c, eng := newTestCore(t)
	a := createAt(t, c, domain.KindSoundObject, 3)
	b := createAt(t, c, domain.KindSoundObject, 4)

	muted, err := c.IsMuted("osc-1", a)
	require.NoError(t, err)
	assert.True(t, muted, "seeded from the document")

	changed, err := c.SetMuted(domain.ObserverEditor, "osc-1", []domain.ProcessorID{b}, true)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = c.SetMuted(domain.ObserverEditor, "osc-1", []domain.ProcessorID{b}, true)
	require.NoError(t, err)
	assert.False(t, changed)

	addrs, err := c.Muted("osc-1", domain.KindSoundObject)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, addrs)

	_, err = c.SetMuted(domain.ObserverEditor, "midi-9", []domain.ProcessorID{a}, true)
	assert.ErrorIs(t, err, domain.ErrUnknownProtocol)

	t.Run("muted protocol input is dropped", func(t *testing.T) {
		eng.ClearSent()
		eng.Receive("osc-1", domain.Message{Kind: domain.KindSoundObject, Address: 3, Parameter: "position_xy", Values: []float64{1, 1}})
		assert.Empty(t, eng.Sent())
	})

	t.Run("unmuted protocol input is forwarded", func(t *testing.T) {
		eng.ClearSent()
		c.Pop(domain.ObserverEditor, domain.ChangeAll)
		eng.Receive("rttrpm-1", domain.Message{Kind: domain.KindSoundObject, Address: 3, Parameter: "position_xy", Values: []float64{1, 1}})
		sent := eng.SentTo(domain.ProtocolPrimary)
		require.Len(t, sent, 1)
		assert.Equal(t, 3, sent[0].Address)
		assert.True(t, c.Pop(domain.ObserverEditor, domain.ChangeParameterValue))
	})
}

type queuePoster struct {
	tasks []func()
}

func (q *queuePoster) Post(fn func()) { q.tasks = append(q.tasks, fn) }

func (q *queuePoster) drain() {
	tasks := q.tasks
	q.tasks = nil
	for _, fn := range tasks {
		fn()
	}
}

func TestCoreLivenessIsMarshaled(t *testing.T) {
	q := &queuePoster{}
	c, eng := newTestCore(t, WithPoster(q))

	eng.SetLiveness(domain.ProtocolPrimary, domain.LivenessMaster)
	assert.False(t, c.Peek(domain.ObserverEditor, domain.ChangeLiveness), "nothing happens off the owner context")
	require.Len(t, q.tasks, 1)

	q.drain()
	assert.True(t, c.Pop(domain.ObserverEditor, domain.ChangeLiveness))
	assert.True(t, c.IsConnected(domain.EndpointPrimary))
	master, ok := c.GetMaster()
	require.True(t, ok)
	assert.Equal(t, domain.EndpointPrimary, master)

	eng.SetLiveness(domain.ProtocolPrimary, domain.LivenessMaster)
	q.drain()
	assert.False(t, c.Peek(domain.ObserverEditor, domain.ChangeLiveness), "repeated state is not a change")
}

func TestCoreSnapshotRestore(t *testing.T) {
	src, _ := newTestCore(t)
	createAt(t, src, domain.KindSoundObject, 3)
	createAt(t, src, domain.KindSoundObject, 90)
	mi := createAt(t, src, domain.KindMatrixInput, 12)
	require.NoError(t, src.SetName(domain.ObserverEditor, mi, "Lectern"))
	_, err := src.SetMuted(domain.ObserverEditor, "rttrpm-1", []domain.ProcessorID{mi}, true)
	require.NoError(t, err)

	want, err := src.Snapshot()
	require.NoError(t, err)
	assert.Len(t, want.Entities, 3)
	assert.Equal(t, domain.MuteList{domain.KindMatrixInput: {12}}, want.Mutes["rttrpm-1"])

	dst, err := New(engine.NewLoopback(nil))
	require.NoError(t, err)
	require.NoError(t, dst.Restore(want))

	got, err := dst.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, domain.ObserverPersistence, dst.LastWriter(domain.ChangeExtensionMode))

	subs, err := dst.Subscriptions()
	require.NoError(t, err)
	assert.Equal(t, []int{26}, subs.Addresses(domain.EndpointSecondary, domain.KindSoundObject))
}

func TestCoreRestoreRejected(t *testing.T) {
	c, eng := newTestCore(t)
	createAt(t, c, domain.KindSoundObject, 7)
	before, err := c.Snapshot()
	require.NoError(t, err)

	p := *domain.NewProject()
	p.Entities = []domain.Entity{{Kind: domain.KindMatrixOutput, Address: 2, ComsMode: domain.ComsTxRx}}

	eng.RejectConfig(true)
	assert.ErrorIs(t, c.Restore(p), domain.ErrEngineRejected)
	eng.RejectConfig(false)

	after, err := c.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	t.Run("invalid project", func(t *testing.T) {
		bad := *domain.NewProject()
		bad.Entities = []domain.Entity{{Kind: domain.KindSoundObject, Address: 0}}
		assert.ErrorIs(t, c.Restore(bad), domain.ErrInvalidAddress)

		bad = *domain.NewProject()
		bad.Mutes = map[domain.ProtocolID]domain.MuteList{"osc-7": {domain.KindSoundObject: {1}}}
		assert.ErrorIs(t, c.Restore(bad), domain.ErrUnknownProtocol)

		bad = *domain.NewProject()
		bad.Topology.Mode = domain.TopologyMirror
		assert.ErrorIs(t, c.Restore(bad), domain.ErrNoSecondary)
	})
}
