package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixbridge/internal/change"
	"mixbridge/internal/domain"
)

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *change.Tracker) {
	t.Helper()
	tr := change.New()
	return New(tr, opts...), tr
}

func TestCreateAssignsLowestFreeAddress(t *testing.T) {
	r, _ := newTestRegistry(t)

	a, err := r.Create(domain.KindSoundObject)
	require.NoError(t, err)
	b, err := r.Create(domain.KindSoundObject)
	require.NoError(t, err)
	mi, err := r.Create(domain.KindMatrixInput)
	require.NoError(t, err)

	ea, _ := r.Get(a)
	eb, _ := r.Get(b)
	emi, _ := r.Get(mi)
	assert.Equal(t, 1, ea.Address)
	assert.Equal(t, 2, eb.Address)
	assert.Equal(t, 1, emi.Address, "kinds have independent address spaces")
	assert.Equal(t, domain.ComsTxRx, ea.ComsMode)
}

func TestCreateFullKind(t *testing.T) {
	r, tr := newTestRegistry(t, WithBounds(func(domain.ProcessorKind) (int, int) { return 1, 2 }))
	for i := 0; i < 2; i++ {
		_, err := r.Create(domain.KindSoundObject)
		require.NoError(t, err)
	}
	tr.Pop(domain.ObserverEditor, domain.ChangeAll)

	_, err := r.Draft(domain.KindSoundObject)
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	_, err = r.Create(domain.KindSoundObject)
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	assert.Equal(t, 2, r.CountKind(domain.KindSoundObject))
	assert.Len(t, r.FindByAddress(domain.KindSoundObject, 2), 1, "no second entity at the top address")
	assert.False(t, tr.Peek(domain.ObserverEditor, domain.ChangeNumProcessors))

	id, err := r.Create(domain.KindMatrixInput)
	require.NoError(t, err)
	e, _ := r.Get(id)
	assert.Equal(t, 1, e.Address, "other kinds are unaffected")
}

func TestDraftAndCheckAddressDoNotMutate(t *testing.T) {
	r, tr := newTestRegistry(t)
	id, err := r.Create(domain.KindSoundObject)
	require.NoError(t, err)
	tr.Pop(domain.ObserverEditor, domain.ChangeAll)

	draft, err := r.Draft(domain.KindSoundObject)
	require.NoError(t, err)
	assert.Equal(t, 2, draft.Address)
	assert.Equal(t, domain.InvalidProcessorID, draft.ID)

	addr, err := r.CheckAddress(id, 500)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultCapacity, addr)
	_, err = r.CheckAddress(id, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	_, err = r.CheckAddress(99, 3)
	assert.ErrorIs(t, err, domain.ErrUnknownEntity)

	e, _ := r.Get(id)
	assert.Equal(t, 1, e.Address)
	assert.Equal(t, 1, r.CountActive())
	assert.False(t, tr.Peek(domain.ObserverEditor, domain.ChangeAll))
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	r, tr := newTestRegistry(t)
	_, err := r.Create("speaker")
	assert.Error(t, err)
	assert.False(t, tr.PeekAny(domain.ObserverEditor))
}

func TestCreateDestroyMarksNumProcessors(t *testing.T) {
	r, tr := newTestRegistry(t)

	id, err := r.Create(domain.KindMatrixOutput)
	require.NoError(t, err)
	assert.True(t, tr.Pop(domain.ObserverOverview, domain.ChangeNumProcessors))
	assert.Equal(t, domain.ObserverHost, tr.LastWriter(domain.ChangeNumProcessors))

	require.NoError(t, r.Destroy(id))
	assert.True(t, tr.Pop(domain.ObserverOverview, domain.ChangeNumProcessors))
}

func TestIdsAreNeverReusedWhileNonEmpty(t *testing.T) {
	r, _ := newTestRegistry(t)

	keep, _ := r.Create(domain.KindSoundObject)
	tmp, _ := r.Create(domain.KindSoundObject)
	require.NoError(t, r.Destroy(tmp))
	fresh, _ := r.Create(domain.KindSoundObject)

	assert.NotEqual(t, keep, fresh)
	assert.NotEqual(t, tmp, fresh)
	assert.Equal(t, []domain.ProcessorID{keep, fresh}, r.List())
}

func TestCreateDestroyCreateYieldsNonLiveID(t *testing.T) {
	r, _ := newTestRegistry(t)

	live, _ := r.Create(domain.KindSoundObject)
	id, _ := r.Create(domain.KindSoundObject)
	require.NoError(t, r.Destroy(id))
	next, _ := r.Create(domain.KindSoundObject)

	for _, other := range r.List() {
		if other != next {
			assert.NotEqual(t, other, next)
		}
	}
	assert.NotEqual(t, live, next)
}

func TestDestroyDoesNotRenumber(t *testing.T) {
	r, _ := newTestRegistry(t)
	a, _ := r.Create(domain.KindSoundObject)
	b, _ := r.Create(domain.KindSoundObject)
	c, _ := r.Create(domain.KindSoundObject)

	require.NoError(t, r.Destroy(b))

	ea, err := r.Get(a)
	require.NoError(t, err)
	ec, err := r.Get(c)
	require.NoError(t, err)
	assert.Equal(t, a, ea.ID)
	assert.Equal(t, c, ec.ID)
	assert.Equal(t, 3, ec.Address)
	assert.Equal(t, 2, r.CountActive())

	_, err = r.Get(b)
	assert.ErrorIs(t, err, domain.ErrUnknownEntity)
	assert.ErrorIs(t, r.Destroy(b), domain.ErrUnknownEntity)
}

func TestSetAddress(t *testing.T) {
	r, tr := newTestRegistry(t)
	id, _ := r.Create(domain.KindSoundObject)
	tr.Reset()

	t.Run("clamps above range", func(t *testing.T) {
		e, err := r.SetAddress(domain.ObserverEditor, id, 500)
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultCapacity, e.Address)
		assert.True(t, tr.Pop(domain.ObserverHost, domain.ChangeDomainAddress))
		assert.Equal(t, domain.ObserverEditor, tr.LastWriter(domain.ChangeDomainAddress))
	})

	t.Run("rejects non-positive without mutation", func(t *testing.T) {
		_, err := r.SetAddress(domain.ObserverEditor, id, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidAddress)
		e, _ := r.Get(id)
		assert.Equal(t, domain.DefaultCapacity, e.Address)
		assert.False(t, tr.Peek(domain.ObserverHost, domain.ChangeDomainAddress))
	})

	t.Run("unknown entity", func(t *testing.T) {
		_, err := r.SetAddress(domain.ObserverEditor, 999, 3)
		assert.ErrorIs(t, err, domain.ErrUnknownEntity)
	})

	t.Run("same address does not mark", func(t *testing.T) {
		_, err := r.SetAddress(domain.ObserverEditor, id, domain.DefaultCapacity)
		require.NoError(t, err)
		assert.False(t, tr.Peek(domain.ObserverHost, domain.ChangeDomainAddress))
	})
}

func TestBoundsAreInjected(t *testing.T) {
	r, _ := newTestRegistry(t, WithBounds(func(domain.ProcessorKind) (int, int) { return 1, 128 }))
	id, _ := r.Create(domain.KindSoundObject)

	e, err := r.SetAddress(domain.ObserverHost, id, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, e.Address)

	min, max := r.AddressRange(domain.KindSoundObject)
	assert.Equal(t, 1, min)
	assert.Equal(t, 128, max)
}

func TestFindByAddressAndKinds(t *testing.T) {
	r, _ := newTestRegistry(t)
	so, _ := r.Create(domain.KindSoundObject)
	mi, _ := r.Create(domain.KindMatrixInput)

	assert.Equal(t, []domain.ProcessorID{so}, r.FindByAddress(domain.KindSoundObject, 1))
	assert.Equal(t, []domain.ProcessorID{mi}, r.ListKind(domain.KindMatrixInput))
	assert.Equal(t, 1, r.CountKind(domain.KindMatrixInput))
	assert.Empty(t, r.FindByAddress(domain.KindMatrixOutput, 1))
}

func TestRestoreAndValues(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, err := r.Restore(domain.Entity{Kind: domain.KindMatrixInput, Address: 7, ComsMode: domain.ComsRx, Name: "vox"})
	require.NoError(t, err)
	require.NoError(t, r.SetValue(id, "gain", []float64{-6}))

	e, _ := r.Get(id)
	assert.Equal(t, 7, e.Address)
	assert.Equal(t, domain.ComsRx, e.ComsMode)
	v, ok := e.Value("gain")
	assert.True(t, ok)
	assert.Equal(t, []float64{-6}, v)

	_, err = r.Restore(domain.Entity{Kind: domain.KindMatrixInput, Address: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestComsModeAndName(t *testing.T) {
	r, tr := newTestRegistry(t)
	id, _ := r.Create(domain.KindSoundObject)
	tr.Reset()

	require.NoError(t, r.SetComsMode(domain.ObserverEditor, id, domain.ComsRx))
	require.NoError(t, r.SetName(domain.ObserverEditor, id, "lead"))
	assert.True(t, tr.Pop(domain.ObserverHost, domain.ChangeComsMode|domain.ChangeName))

	assert.ErrorIs(t, r.SetComsMode(domain.ObserverEditor, 42, domain.ComsTx), domain.ErrUnknownEntity)
	assert.ErrorIs(t, r.SetName(domain.ObserverEditor, 42, "x"), domain.ErrUnknownEntity)
}

func TestClear(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Create(domain.KindSoundObject)
	r.Create(domain.KindSoundObject)
	r.Clear()

	assert.Zero(t, r.CountActive())
	id, _ := r.Create(domain.KindSoundObject)
	assert.Equal(t, domain.ProcessorID(1), id)
}
