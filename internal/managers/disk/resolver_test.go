package disk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-vdev/internal/interfaces"
	"github.com/deploymenttheory/go-vdev/internal/types"
)

func TestOpenScanFindsMovedDevice(t *testing.T) {
	r := newRig(t, interfaces.ModeRead)

	// The device the path points at carries somebody else's identity;
	// the wanted identity lives on a different device.
	r.addLabeled(t, "diskA", 512, types.Identity{PoolGUID: r.pool.guid, VdevGUID: 99})
	r.addLabeled(t, "diskB", 512, types.Identity{PoolGUID: r.pool.guid, VdevGUID: 7})

	vd := types.NewVdev(7, "/dev/diskA")
	_, err := r.mgr.Open(vd)
	require.NoError(t, err)

	assert.Equal(t, "/dev/diskB", vd.Path())
	assert.NotNil(t, vd.Handle())
}

func TestOpenScanLeavesNoClaimsOnMismatches(t *testing.T) {
	r := newRig(t, interfaces.ModeRead)
	r.cfg.AllowUnverifiedPath = false

	pA := r.addLabeled(t, "diskA", 512, types.Identity{PoolGUID: r.pool.guid, VdevGUID: 99})
	pB := r.addLabeled(t, "diskB", 512, types.Identity{PoolGUID: 42, VdevGUID: 7})

	vd := types.NewVdev(7, "/dev/diskA")
	_, err := r.mgr.Open(vd)
	require.ErrorIs(t, err, types.ErrNotFound)

	// Tasting during the scan must not leave claims behind.
	acr, acw, ace := pA.Claims()
	assert.Zero(t, acr+acw+ace)
	acr, acw, ace = pB.Claims()
	assert.Zero(t, acr+acw+ace)
}

func TestOpenScanSkipsOwnClass(t *testing.T) {
	r := newRig(t, interfaces.ModeRead)
	r.cfg.AllowUnverifiedPath = false

	p := r.addLabeled(t, "diskA", 512, types.Identity{PoolGUID: r.pool.guid, VdevGUID: 7})
	p.SetClass(className)

	// The path points elsewhere, so only the scan could find diskA; a
	// provider of our own class must never be matched.
	vd := types.NewVdev(7, "/dev/missing")
	_, err := r.mgr.Open(vd)
	require.ErrorIs(t, err, types.ErrNotFound)
	assert.Nil(t, vd.Handle())
}

func TestOpenScanSkipsBadSectorProviders(t *testing.T) {
	r := newRig(t, interfaces.ModeRead)
	r.cfg.AllowUnverifiedPath = false

	r.layer.AddProvider("weird", 520, testMediaSize)

	vd := types.NewVdev(7, "/dev/missing")
	_, err := r.mgr.Open(vd)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestOpenUnverifiedPathPolicy(t *testing.T) {
	cases := []struct {
		name      string
		prevState types.VdevState
		loadState interfaces.LoadState
		splitting bool
		allow     bool
		wantOpen  bool
	}{
		{"first open outside a load", types.StateUnknown, interfaces.LoadNone, false, true, true},
		{"previously opened", types.StateClosed, interfaces.LoadNone, false, true, false},
		{"during import", types.StateUnknown, interfaces.LoadImport, false, true, false},
		{"during import while splitting", types.StateUnknown, interfaces.LoadImport, true, true, true},
		{"policy disabled", types.StateUnknown, interfaces.LoadNone, false, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, interfaces.ModeRead)
			r.cfg.AllowUnverifiedPath = tc.allow
			r.pool.loadState = tc.loadState
			r.pool.splitting = tc.splitting

			// An unlabeled device: only unverified path reuse can bind it.
			r.layer.AddProvider("blank", 512, testMediaSize)

			vd := types.NewVdev(7, "/dev/blank")
			vd.PrevState = tc.prevState

			_, err := r.mgr.Open(vd)
			if tc.wantOpen {
				require.NoError(t, err)
				assert.NotNil(t, vd.Handle())
			} else {
				require.ErrorIs(t, err, types.ErrNotFound)
				assert.Nil(t, vd.Handle())
			}
		})
	}
}

func TestOpenPrefersVerifiedPathOverScan(t *testing.T) {
	r := newRig(t, interfaces.ModeRead)

	// Two devices carry the wanted identity; the one at the stored path
	// wins without rebinding the path.
	id := types.Identity{PoolGUID: r.pool.guid, VdevGUID: 7}
	r.addLabeled(t, "diskA", 512, id)
	r.addLabeled(t, "diskB", 512, id)

	vd := types.NewVdev(7, "/dev/diskB")
	_, err := r.mgr.Open(vd)
	require.NoError(t, err)
	assert.Equal(t, "/dev/diskB", vd.Path())
}

func TestReadIdentityTooSmallMedia(t *testing.T) {
	r := newRig(t, interfaces.ModeRead)
	r.cfg.AllowUnverifiedPath = false

	// Half a megabyte cannot hold four labels, so identity reads yield
	// nothing and the open fails outright.
	r.layer.AddProvider("tiny", 512, 512*1024)

	vd := types.NewVdev(7, "/dev/tiny")
	_, err := r.mgr.Open(vd)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestReadIdentitySurvivesPartialLabelDamage(t *testing.T) {
	r := newRig(t, interfaces.ModeRead)
	p := r.addLabeled(t, "disk0", 512, types.Identity{PoolGUID: r.pool.guid, VdevGUID: 7})

	// Corrupt the front labels; the back copies still identify the
	// device.
	zero := make([]byte, types.LabelSize)
	_, err := p.WriteAt(zero, 0)
	require.NoError(t, err)
	_, err = p.WriteAt(zero, int64(types.LabelSize))
	require.NoError(t, err)

	vd := types.NewVdev(7, "/dev/disk0")
	_, err = r.mgr.Open(vd)
	require.NoError(t, err)
	assert.NotNil(t, vd.Handle())
}

func TestProviderName(t *testing.T) {
	assert.Equal(t, "disk0", providerName("/dev/disk0"))
	assert.Equal(t, "mirror/gm0", providerName("/dev/mirror/gm0"))
	assert.Equal(t, "disk0", providerName("disk0"))
}
