package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Remote talks to an external wallet daemon over JSON-RPC. Account and
// network changes arrive as eth_subscribe notifications when the transport
// supports them.
type Remote struct {
	client *rpc.Client
	logger *zap.Logger

	accountsFeed event.Feed
	chainFeed    event.Feed

	mu   sync.Mutex
	subs []*rpc.ClientSubscription
	wg   sync.WaitGroup
}

// DialRemote connects to the wallet endpoint and starts the event bridge.
func DialRemote(ctx context.Context, url string, logger *zap.Logger) (*Remote, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial wallet %s: %w", url, err)
	}
	r := NewRemote(client, logger)
	r.Listen(ctx)
	return r, nil
}

// NewRemote wraps an existing rpc client. Call Listen to start receiving
// wallet events.
func NewRemote(client *rpc.Client, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{client: client, logger: logger}
}

// Listen subscribes to accountsChanged and chainChanged and forwards them to
// the feeds. A transport without subscriptions only logs a warning.
func (r *Remote) Listen(ctx context.Context) {
	r.bridgeAccounts(ctx)
	r.bridgeChain(ctx)
}

func (r *Remote) Request(ctx context.Context, method string, result interface{}, params ...interface{}) error {
	return r.client.CallContext(ctx, result, method, params...)
}

func (r *Remote) SubscribeAccounts(ch chan<- []common.Address) event.Subscription {
	return r.accountsFeed.Subscribe(ch)
}

func (r *Remote) SubscribeChain(ch chan<- uint64) event.Subscription {
	return r.chainFeed.Subscribe(ch)
}

// Close stops the event bridge and closes the connection.
func (r *Remote) Close() {
	r.mu.Lock()
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	r.subs = nil
	r.mu.Unlock()

	r.wg.Wait()
	r.client.Close()
}

func (r *Remote) bridgeAccounts(ctx context.Context) {
	ch := make(chan []common.Address, 4)
	sub, err := r.client.EthSubscribe(ctx, ch, "accountsChanged")
	if err != nil {
		r.logger.Warn("wallet account events unavailable", zap.Error(err))
		return
	}
	r.track(sub)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case accounts := <-ch:
				r.accountsFeed.Send(accounts)
			case err := <-sub.Err():
				if err != nil {
					r.logger.Warn("wallet account subscription ended", zap.Error(err))
				}
				return
			}
		}
	}()
}

func (r *Remote) bridgeChain(ctx context.Context) {
	ch := make(chan hexutil.Uint64, 4)
	sub, err := r.client.EthSubscribe(ctx, ch, "chainChanged")
	if err != nil {
		r.logger.Warn("wallet network events unavailable", zap.Error(err))
		return
	}
	r.track(sub)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case id := <-ch:
				r.chainFeed.Send(uint64(id))
			case err := <-sub.Err():
				if err != nil {
					r.logger.Warn("wallet network subscription ended", zap.Error(err))
				}
				return
			}
		}
	}()
}

func (r *Remote) track(sub *rpc.ClientSubscription) {
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
}
