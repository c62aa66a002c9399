package gateway

import (
	"context"
	"sync"
)

// ScriptedRead is one entry in a ScriptedClient's read sequence.
type ScriptedRead struct {
	Result ReadResult
	Err    error
}

// WriteRecord captures one write issued against a ScriptedClient.
type WriteRecord struct {
	DeviceID int64
	Address  string
	Value    string
}

// ScriptedClient implements Client with a predetermined read sequence for
// tests. Reads consume the script in order; once exhausted, the last entry
// repeats. Writes always succeed and are recorded.
type ScriptedClient struct {
	mu     sync.Mutex
	script []ScriptedRead
	idx    int
	count  int
	writes []WriteRecord
}

func NewScriptedClient(reads ...ScriptedRead) *ScriptedClient {
	return &ScriptedClient{script: reads}
}

func (c *ScriptedClient) Read(ctx context.Context, deviceID int64, address string) (ReadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	if len(c.script) == 0 {
		return ReadResult{Success: true, Value: 0}, nil
	}
	r := c.script[c.idx]
	if c.idx < len(c.script)-1 {
		c.idx++
	}
	return r.Result, r.Err
}

func (c *ScriptedClient) Write(ctx context.Context, deviceID int64, address, value string) (WriteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, WriteRecord{DeviceID: deviceID, Address: address, Value: value})
	return WriteResult{Success: true}, nil
}

func (c *ScriptedClient) Connect(ctx context.Context, deviceID int64) error { return nil }

func (c *ScriptedClient) Status(ctx context.Context, deviceID int64) (bool, error) {
	return true, nil
}

// Writes returns a copy of all recorded writes.
func (c *ScriptedClient) Writes() []WriteRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]WriteRecord(nil), c.writes...)
}

// ReadCount reports how many reads have been consumed from the script.
func (c *ScriptedClient) ReadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
