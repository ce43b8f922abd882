// Package etcdkv implements kv.Client on top of etcd, adopted from
// Prysm's beacon-chain/db backends' use of go.etcd.io for the teacher's
// own durable-metadata concern (bbolt there is local-only; etcd is the
// pack's distributed-metadata analogue pulled in per spec.md §4.2).
package etcdkv

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/prysmaticlabs/dna/kv"
)

// Client implements kv.Client against an etcd cluster.
type Client struct {
	cli *clientv3.Client
}

func New(cli *clientv3.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Get(ctx context.Context, key string) (kv.KeyValue, error) {
	resp, err := c.cli.Get(ctx, key)
	if err != nil {
		return kv.KeyValue{}, err
	}
	if len(resp.Kvs) == 0 {
		return kv.KeyValue{}, kv.ErrNotFound
	}
	k := resp.Kvs[0]
	return kv.KeyValue{Key: string(k.Key), Value: k.Value, Revision: k.ModRevision}, nil
}

func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.cli.Put(ctx, key, string(value))
	return err
}

func (c *Client) GetPrefix(ctx context.Context, prefix string) ([]kv.KeyValue, error) {
	resp, err := c.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make([]kv.KeyValue, 0, len(resp.Kvs))
	for _, k := range resp.Kvs {
		out = append(out, kv.KeyValue{Key: string(k.Key), Value: k.Value, Revision: k.ModRevision})
	}
	return out, nil
}

func (c *Client) TxnPutAndDelete(ctx context.Context, txn kv.PutAndDelete) error {
	etxn := c.cli.Txn(ctx)
	var ops []clientv3.Op
	for _, key := range txn.Deletes {
		ops = append(ops, clientv3.OpDelete(key))
	}
	for key, value := range txn.Puts {
		ops = append(ops, clientv3.OpPut(key, string(value)))
	}
	_, err := etxn.Then(ops...).Commit()
	return err
}

func (c *Client) WatchPrefix(ctx context.Context, prefix string, fromRevision int64) (<-chan kv.WatchEvent, error) {
	out := make(chan kv.WatchEvent, 64)

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if fromRevision > 0 {
		opts = append(opts, clientv3.WithRev(fromRevision))
	}
	watchCh := c.cli.Watch(ctx, prefix, opts...)

	go func() {
		defer close(out)
		for resp := range watchCh {
			for _, ev := range resp.Events {
				out <- kv.WatchEvent{
					Key:      string(ev.Kv.Key),
					Value:    ev.Kv.Value,
					Revision: ev.Kv.ModRevision,
					Deleted:  ev.Type == clientv3.EventTypeDelete,
				}
			}
		}
	}()
	return out, nil
}

type etcdLock struct {
	session *concurrency.Session
	mutex   *concurrency.Mutex
}

func (l *etcdLock) Key() string { return l.mutex.Key() }

// Alive returns a channel closed when the lock's underlying lease
// session ends (expiry, revocation, or client close), letting callers
// detect losing the lock without polling.
func (l *etcdLock) Alive() <-chan struct{} { return l.session.Done() }

func (l *etcdLock) Unlock(ctx context.Context) error {
	if err := l.mutex.Unlock(ctx); err != nil {
		return err
	}
	return l.session.Close()
}

func (c *Client) Lock(ctx context.Context, key string, ttl int64) (kv.Lock, error) {
	session, err := concurrency.NewSession(c.cli, concurrency.WithTTL(int(ttl)), concurrency.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	mutex := concurrency.NewMutex(session, key)
	if err := mutex.Lock(ctx); err != nil {
		_ = session.Close()
		return nil, err
	}
	return &etcdLock{session: session, mutex: mutex}, nil
}
