// File: internal/types/request.go
package types

// RequestType is the pool-level operation class of a Request.
type RequestType int

const (
	RequestRead RequestType = iota
	RequestWrite
	RequestIoctl
)

// IoctlCmd selects the device control operation for RequestIoctl.
type IoctlCmd int

const (
	IoctlNone IoctlCmd = iota
	IoctlFlushWriteCache
	IoctlTrim
)

// PipelineSignal tells the pool manager whether a submitted request
// already completed inline or will complete asynchronously through the
// completion sink.
type PipelineSignal int

const (
	// PipelineContinue: the request completed inline; Err is final.
	PipelineContinue PipelineSignal = iota

	// PipelineStop: the request was handed to the device layer and
	// will complete through the completion sink.
	PipelineStop
)

// Request is one pool-level I/O against a vdev. Offset and Size must be
// sector-multiple for reads and writes. Err is meaningful once the
// request completes: inline for PipelineContinue, via the completion
// sink for PipelineStop.
type Request struct {
	Type   RequestType
	Cmd    IoctlCmd
	Vdev   *Vdev
	Offset int64
	Size   int64
	Data   []byte
	Err    error
}
