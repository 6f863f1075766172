package testutil

import (
	"sync"
	"time"
)

// BlockInterval is the spacing between consecutive block timestamps.
const BlockInterval = 3 * time.Second

// BlockClock hands out deterministic block timestamps for tests.
//
// Block n is stamped Genesis + n*BlockInterval, so timestamps are monotonic in
// block order and identical across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type BlockClock struct {
	mu      sync.Mutex
	genesis time.Time
	head    uint32
}

// DefaultGenesis is the genesis time used by NewBlockClock.
var DefaultGenesis = time.Date(2016, 3, 24, 16, 0, 0, 0, time.UTC)

// NewBlockClock creates a clock at block 0 starting from DefaultGenesis.
func NewBlockClock() *BlockClock {
	return &BlockClock{genesis: DefaultGenesis}
}

// NewBlockClockAt creates a clock whose block 0 is stamped genesis.
func NewBlockClockAt(genesis time.Time) *BlockClock {
	return &BlockClock{genesis: genesis.UTC()}
}

// At returns the timestamp of block n without moving the head.
func (c *BlockClock) At(n uint32) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at(n)
}

// Next advances the head and returns the new block number with its timestamp.
func (c *BlockClock) Next() (uint32, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head++
	return c.head, c.at(c.head)
}

// Head returns the last block number handed out by Next.
func (c *BlockClock) Head() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Reset moves the head back to block 0.
func (c *BlockClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = 0
}

func (c *BlockClock) at(n uint32) time.Time {
	return c.genesis.Add(time.Duration(n) * BlockInterval)
}
