// File: internal/types/transfer.go
package types

// TransferCmd selects the block-layer operation carried by a Transfer.
type TransferCmd int

const (
	CmdRead TransferCmd = iota
	CmdWrite
	CmdFlush
	CmdDelete
)

// String returns the command name for logging.
func (c TransferCmd) String() string {
	switch c {
	case CmdRead:
		return "read"
	case CmdWrite:
		return "write"
	case CmdFlush:
		return "flush"
	case CmdDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Transfer is a single block-layer I/O submitted to a device
// connection. Completion is delivered by invoking Done on the device
// layer's completion thread; the device layer fills Err and Resid
// before doing so. Ordered requests act as barriers relative to prior
// writes on the same device queue.
type Transfer struct {
	Cmd     TransferCmd
	Offset  int64
	Length  int64
	Data    []byte
	Ordered bool

	// Done is invoked exactly once when the transfer completes.
	Done func(*Transfer)

	// Err is the transfer-layer error, nil on success.
	Err error

	// Resid is the number of requested bytes not moved. A non-zero
	// residual with a nil Err is still a failed transfer.
	Resid int64
}
