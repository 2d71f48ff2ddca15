// Package dextest provides an in-memory contract caller for tests.
package dextest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Handler answers one decoded contract call.
type Handler func(args []interface{}) ([]interface{}, error)

type route struct {
	method  abi.Method
	handler Handler
}

// Chain dispatches eth_call messages to handlers keyed by target and selector.
type Chain struct {
	mu     sync.Mutex
	routes map[common.Address]map[string]route
	calls  map[string]int
}

func New() *Chain {
	return &Chain{
		routes: make(map[common.Address]map[string]route),
		calls:  make(map[string]int),
	}
}

// Handle registers h for method on target.
func (c *Chain) Handle(target common.Address, parsed abi.ABI, method string, h Handler) {
	m, ok := parsed.Methods[method]
	if !ok {
		panic(fmt.Sprintf("dextest: unknown method %s", method))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.routes[target] == nil {
		c.routes[target] = make(map[string]route)
	}
	c.routes[target][string(m.ID)] = route{method: m, handler: h}
}

// Return registers fixed return values for method on target.
func (c *Chain) Return(target common.Address, parsed abi.ABI, method string, values ...interface{}) {
	c.Handle(target, parsed, method, func([]interface{}) ([]interface{}, error) {
		return values, nil
	})
}

// Fail makes method on target return err.
func (c *Chain) Fail(target common.Address, parsed abi.ABI, method string, err error) {
	c.Handle(target, parsed, method, func([]interface{}) ([]interface{}, error) {
		return nil, err
	})
}

// Calls reports how many times method was called on any target.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, fmt.Errorf("dextest: malformed call")
	}

	c.mu.Lock()
	r, ok := c.routes[*msg.To][string(msg.Data[:4])]
	if ok {
		c.calls[r.method.Name]++
	}
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dextest: no handler for %s selector %x", msg.To.Hex(), msg.Data[:4])
	}

	args, err := r.method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("dextest: unpack %s: %w", r.method.Name, err)
	}
	out, err := r.handler(args)
	if err != nil {
		return nil, err
	}
	return r.method.Outputs.Pack(out...)
}
