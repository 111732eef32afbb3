package disk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-vdev/internal/interfaces"
	"github.com/deploymenttheory/go-vdev/internal/types"
)

func TestOpenBindsLabeledDevice(t *testing.T) {
	r := newRig(t, interfaces.ModeRead|interfaces.ModeWrite)
	vd := types.NewVdev(7, "/dev/disk0")
	p := r.addLabeled(t, "disk0", 512, types.Identity{PoolGUID: r.pool.guid, VdevGUID: 7})

	res, err := r.mgr.Open(vd)
	require.NoError(t, err)

	assert.NotNil(t, vd.Handle())
	assert.Equal(t, types.AuxNone, vd.Aux())
	assert.Equal(t, uint64(testMediaSize), res.PhysicalSize)
	assert.Equal(t, uint64(testMediaSize), res.MaxPhysicalSize)
	assert.Equal(t, uint64(9), res.Ashift)

	// One read and one exclusive claim from the bind, plus the write
	// claim escalated for a writable pool.
	acr, acw, ace := p.Claims()
	assert.Equal(t, 1, acr)
	assert.Equal(t, 1, acw)
	assert.Equal(t, 1, ace)
}

func TestOpenReadOnlyPoolSkipsWriteClaim(t *testing.T) {
	r := newRig(t, interfaces.ModeRead)
	vd := types.NewVdev(7, "/dev/disk0")
	p := r.addLabeled(t, "disk0", 512, types.Identity{PoolGUID: r.pool.guid, VdevGUID: 7})

	_, err := r.mgr.Open(vd)
	require.NoError(t, err)

	_, acw, _ := p.Claims()
	assert.Zero(t, acw)
}

func TestOpenLargeSectorAshift(t *testing.T) {
	r := newRig(t, interfaces.ModeRead)
	vd := types.NewVdev(7, "/dev/disk0")
	r.addLabeled(t, "disk0", 4096, types.Identity{PoolGUID: r.pool.guid, VdevGUID: 7})

	res, err := r.mgr.Open(vd)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), res.Ashift)
}

func TestOpenRelativePath(t *testing.T) {
	r := newRig(t, interfaces.ModeRead)
	vd := types.NewVdev(7, "disk0")

	_, err := r.mgr.Open(vd)
	require.ErrorIs(t, err, types.ErrInvalid)
	assert.Equal(t, types.AuxBadLabel, vd.Aux())
	assert.Nil(t, vd.Handle())
}

func TestOpenMissingDevice(t *testing.T) {
	r := newRig(t, interfaces.ModeRead)
	vd := types.NewVdev(7, "/dev/nope")

	_, err := r.mgr.Open(vd)
	require.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, types.AuxOpenFailed, vd.Aux())
	assert.Nil(t, vd.Handle())
}

func TestOpenBadSectorSizes(t *testing.T) {
	cases := []struct {
		name   string
		sector uint32
	}{
		{"not a power of two", 520},
		{"larger than label pad", 16384},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, interfaces.ModeRead)
			vd := types.NewVdev(7, "/dev/disk0")
			p := r.layer.AddProvider("disk0", tc.sector, testMediaSize)

			_, err := r.mgr.Open(vd)
			require.ErrorIs(t, err, types.ErrInvalid)
			assert.Equal(t, types.AuxOpenFailed, vd.Aux())
			assert.Nil(t, vd.Handle())

			// Nothing left claimed after the failed open.
			acr, acw, ace := p.Claims()
			assert.Zero(t, acr)
			assert.Zero(t, acw)
			assert.Zero(t, ace)
		})
	}
}

func TestOpenWriteClaimRetryExhaustion(t *testing.T) {
	r := newRig(t, interfaces.ModeRead|interfaces.ModeWrite)
	vd := types.NewVdev(7, "/dev/disk0")
	p := r.addLabeled(t, "disk0", 512, types.Identity{PoolGUID: r.pool.guid, VdevGUID: 7})
	p.SetDenyWrite(true)

	_, err := r.mgr.Open(vd)
	require.ErrorIs(t, err, types.ErrBusy)
	assert.Equal(t, types.AuxOpenFailed, vd.Aux())
	assert.Nil(t, vd.Handle())

	acr, acw, ace := p.Claims()
	assert.Zero(t, acr)
	assert.Zero(t, acw)
	assert.Zero(t, ace)
}

func TestOpenResetsCapabilityFlags(t *testing.T) {
	r := newRig(t, interfaces.ModeRead)
	vd := types.NewVdev(7, "/dev/disk0")
	r.addLabeled(t, "disk0", 512, types.Identity{PoolGUID: r.pool.guid, VdevGUID: 7})

	vd.SetNoWriteCache()
	vd.SetNoTrim()

	_, err := r.mgr.Open(vd)
	require.NoError(t, err)
	assert.False(t, vd.NoWriteCache())
	assert.False(t, vd.NoTrim())
}

func TestCloseReleasesClaims(t *testing.T) {
	r := newRig(t, interfaces.ModeRead|interfaces.ModeWrite)
	vd := types.NewVdev(7, "/dev/disk0")
	p := r.addLabeled(t, "disk0", 512, types.Identity{PoolGUID: r.pool.guid, VdevGUID: 7})

	_, err := r.mgr.Open(vd)
	require.NoError(t, err)

	r.mgr.Close(vd)
	assert.Nil(t, vd.Handle())

	acr, acw, ace := p.Claims()
	assert.Zero(t, acr)
	assert.Zero(t, acw)
	assert.Zero(t, ace)

	// Closing again is a no-op.
	r.mgr.Close(vd)
}

func TestConsumerSharedBetweenVdevs(t *testing.T) {
	r := newRig(t, interfaces.ModeRead|interfaces.ModeWrite)
	id := types.Identity{PoolGUID: r.pool.guid, VdevGUID: 7}
	p := r.addLabeled(t, "disk0", 512, id)

	vd1 := types.NewVdev(7, "/dev/disk0")
	vd2 := types.NewVdev(7, "/dev/disk0")

	_, err := r.mgr.Open(vd1)
	require.NoError(t, err)
	_, err = r.mgr.Open(vd2)
	require.NoError(t, err)

	// Read and exclusive once per vdev; the write claim is escalated
	// only once per shared binding.
	acr, acw, ace := p.Claims()
	assert.Equal(t, 2, acr)
	assert.Equal(t, 1, acw)
	assert.Equal(t, 2, ace)
	assert.Same(t, vd1.Handle(), vd2.Handle())

	// Closing one vdev keeps the binding alive for the other.
	r.mgr.Close(vd2)
	acr, acw, ace = p.Claims()
	assert.Equal(t, 1, acr)
	assert.Equal(t, 1, acw)
	assert.Equal(t, 1, ace)
	assert.NotNil(t, vd1.Handle())

	r.mgr.Close(vd1)
	acr, acw, ace = p.Claims()
	assert.Zero(t, acr)
	assert.Zero(t, acw)
	assert.Zero(t, ace)
}

func TestOpenHeldConfigLockRestored(t *testing.T) {
	r := newRig(t, interfaces.ModeRead)
	vd := types.NewVdev(7, "/dev/disk0")
	r.addLabeled(t, "disk0", 512, types.Identity{PoolGUID: r.pool.guid, VdevGUID: 7})

	cl := r.pool.ConfigLock()
	cl.Enter()
	defer cl.Exit()

	_, err := r.mgr.Open(vd)
	require.NoError(t, err)
	assert.True(t, cl.Held())
}

func TestAshift(t *testing.T) {
	cases := []struct {
		sector uint32
		want   uint64
	}{
		{512, 9},
		{1024, 10},
		{4096, 12},
		// Below the minimum block size the floor wins.
		{256, 9},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ashift(tc.sector), "sector %d", tc.sector)
	}
}

func TestValidSectorSize(t *testing.T) {
	assert.True(t, validSectorSize(512))
	assert.True(t, validSectorSize(4096))
	assert.True(t, validSectorSize(8192))
	assert.False(t, validSectorSize(0))
	assert.False(t, validSectorSize(520))
	assert.False(t, validSectorSize(16384))
}
