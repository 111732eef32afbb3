// File: internal/managers/disk/dispatch.go
package disk

import (
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-vdev/internal/interfaces"
	"github.com/deploymenttheory/go-vdev/internal/types"
)

// maxTransfer is the largest single-transfer size for a device: the
// transfer cap aligned down to a sector multiple.
func maxTransfer(sectorSize uint32) int64 {
	maxio := int64(types.MaxTransferSize)
	return maxio - maxio%int64(sectorSize)
}

// Start submits a pool-level request against its vdev. Reads and writes
// are split into sector-aligned chunks no larger than the maximum
// transfer size, issued strictly one at a time in offset order; flushes
// go out as zero-length ordered barriers; trims cover the requested
// byte range. Requests that can be answered without touching the device
// complete inline with PipelineContinue; everything else completes
// through the completion sink after PipelineStop. Never blocks the
// caller.
func (m *Manager) Start(req *types.Request) types.PipelineSignal {
	vd := req.Vdev

	if req.Type == types.RequestIoctl {
		if !vd.Readable() {
			req.Err = types.ErrNoDevice
			return types.PipelineContinue
		}

		switch req.Cmd {
		case types.IoctlFlushWriteCache:
			// Policy-disabled or negotiated-away flushes complete as
			// already successful.
			if m.cfg.FlushDisable || vd.NoWriteCache() {
				return types.PipelineContinue
			}
		case types.IoctlTrim:
			if m.cfg.TrimDisable || vd.NoTrim() {
				return types.PipelineContinue
			}
		default:
			req.Err = types.ErrNotSupported
			return types.PipelineContinue
		}
	}

	cp, _ := vd.Handle().(*consumer)
	if cp == nil {
		req.Err = types.ErrNoDevice
		return types.PipelineContinue
	}

	switch req.Type {
	case types.RequestRead, types.RequestWrite:
		sector := int64(cp.provider().SectorSize())
		if req.Offset%sector != 0 || req.Size%sector != 0 {
			req.Err = fmt.Errorf("%w: request %d+%d not aligned to sector size %d",
				types.ErrInvalid, req.Offset, req.Size, sector)
			return types.PipelineContinue
		}
		if req.Size == 0 {
			return types.PipelineContinue
		}
		m.issueChunk(req, cp, 0)

	case types.RequestIoctl:
		var t *types.Transfer
		switch req.Cmd {
		case types.IoctlFlushWriteCache:
			t = &types.Transfer{
				Cmd:     types.CmdFlush,
				Ordered: true,
				Offset:  int64(cp.provider().MediaSize()),
				Length:  0,
			}
		case types.IoctlTrim:
			t = &types.Transfer{
				Cmd:    types.CmdDelete,
				Offset: req.Offset,
				Length: req.Size,
			}
		}
		t.Done = func(t *types.Transfer) { m.transferDone(req, cp, t, 0) }
		cp.conn.Submit(t)
	}

	return types.PipelineStop
}

// issueChunk sends the next chunk of a read or write. issued is the
// byte count already transferred; the chunk after this one is only sent
// once this one completes cleanly, so chunks of a single request never
// pipeline and complete in offset order.
func (m *Manager) issueChunk(req *types.Request, cp *consumer, issued int64) {
	n := req.Size - issued
	if maxio := maxTransfer(cp.provider().SectorSize()); n > maxio {
		n = maxio
	}

	cmd := types.CmdRead
	if req.Type == types.RequestWrite {
		cmd = types.CmdWrite
	}

	t := &types.Transfer{
		Cmd:    cmd,
		Offset: req.Offset + issued,
		Length: n,
		Data:   req.Data[issued : issued+n],
	}
	next := issued + n
	t.Done = func(t *types.Transfer) { m.transferDone(req, cp, t, next) }
	cp.conn.Submit(t)
}

// transferDone runs on the device layer's completion thread. It
// reclassifies the transfer's raw error, latches capability
// negotiation results, chains the next chunk of a multi-chunk request,
// and otherwise signals the request's completion exactly once.
func (m *Manager) transferDone(req *types.Request, cp *consumer, t *types.Transfer, next int64) {
	vd := req.Vdev

	err := t.Err
	if err == nil && t.Resid != 0 {
		// Short transfer with no other error.
		err = types.ErrIO
	}

	if errors.Is(t.Err, types.ErrNotSupported) {
		// No future attempt will ever succeed; latch the result so the
		// device is never asked again for the life of this handle.
		switch t.Cmd {
		case types.CmdFlush:
			vd.SetNoWriteCache()
		case types.CmdDelete:
			vd.SetNoTrim()
		}
	}

	if err == nil && next < req.Size &&
		(req.Type == types.RequestRead || req.Type == types.RequestWrite) {
		m.issueChunk(req, cp, next)
		return
	}

	req.Err = err

	if errors.Is(err, types.ErrIO) && !vd.RemoveWanted() {
		if cp.provider().Err() != nil {
			// The provider's own fault indicator is set: the device is
			// being removed. Report the fault immediately so stale
			// error state is discarded, and let the pool manager
			// quiesce and close through the async removal path.
			m.pool.ReportFault(vd)
			vd.SetRemoveWanted()
			m.pool.AsyncRequest(vd, interfaces.AsyncRemove)
		} else if !vd.DelayedClose() {
			vd.SetDelayedClose()
		}
	}

	t.Data = nil
	m.sink.Complete(req)
}
