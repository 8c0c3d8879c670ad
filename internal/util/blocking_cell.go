package util

import (
	"context"
	"errors"
	"time"
)

// BlockingCell is a one-shot container for a value: Get blocks until Set is
// called, and Set may only be called once. Nothing in the module outside
// this package's tests uses it.
type BlockingCell struct {
	valueChan chan interface{}
	set       bool
}

// NewBlockingCell creates a new, unset blocking cell.
func NewBlockingCell() *BlockingCell {
	return &BlockingCell{
		valueChan: make(chan interface{}, 1),
	}
}

// Set stores value in the cell. Returns an error if already set.
func (c *BlockingCell) Set(value interface{}) error {
	if c.set {
		return errors.New("cell already set")
	}
	c.set = true
	c.valueChan <- value
	return nil
}

// Get blocks until a value is set, then returns it.
func (c *BlockingCell) Get() interface{} {
	return <-c.valueChan
}

// GetWithTimeout blocks until a value is set or timeout elapses.
func (c *BlockingCell) GetWithTimeout(timeout time.Duration) (interface{}, error) {
	select {
	case value := <-c.valueChan:
		return value, nil
	case <-time.After(timeout):
		return nil, errors.New("timeout")
	}
}

// GetWithContext blocks until a value is set or ctx is done.
func (c *BlockingCell) GetWithContext(ctx context.Context) (interface{}, error) {
	select {
	case value := <-c.valueChan:
		return value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
