// Package gateway is the client side of the device-communication service that
// mediates all physical device I/O (PLC bit reads/writes, connects, status
// probes). The engine consumes only this contract; the transport behind it is
// owned externally.
package gateway

import "context"

// ReadResult is the outcome of a single device read.
type ReadResult struct {
	Success bool   `json:"success"`
	Value   int    `json:"value"`
	Error   string `json:"error,omitempty"`
}

// WriteResult is the outcome of a single device write.
type WriteResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Client is the address-addressed read/write contract of the device gateway.
type Client interface {
	Read(ctx context.Context, deviceID int64, address string) (ReadResult, error)
	Write(ctx context.Context, deviceID int64, address, value string) (WriteResult, error)
	Connect(ctx context.Context, deviceID int64) error
	Status(ctx context.Context, deviceID int64) (bool, error)
}
