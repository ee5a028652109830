// Package firestore adapts Cloud Firestore to the store.Client contract.
// Watch streams reconnect forever with exponential backoff and re-deliver a
// full snapshot on resume; consumers are expected to apply idempotently.
package firestore

import (
	"context"
	"time"

	cfs "cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gpiobridge-go/errcode"
	"gpiobridge-go/store"
)

const (
	backoffStart = 1 * time.Second
	backoffCap   = 60 * time.Second
)

type Client struct {
	fs      *cfs.Client
	timeout time.Duration
	log     *zap.SugaredLogger

	watchCtx    context.Context
	watchCancel context.CancelFunc
}

// New connects to Firestore. rpcTimeout bounds every unary call; watch
// streams are unbounded.
func New(ctx context.Context, project, credentialsFile string, rpcTimeout time.Duration, log *zap.SugaredLogger) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	fs, err := cfs.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, errcode.Wrap(errcode.Fatal, "firestore.new", "client construction failed", err)
	}
	watchCtx, watchCancel := context.WithCancel(context.Background())
	return &Client{
		fs:          fs,
		timeout:     rpcTimeout,
		log:         log,
		watchCtx:    watchCtx,
		watchCancel: watchCancel,
	}, nil
}

func (c *Client) Set(ctx context.Context, path string, data map[string]any, merge bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var err error
	if merge {
		_, err = c.fs.Doc(path).Set(ctx, resolveMap(data), cfs.MergeAll)
	} else {
		_, err = c.fs.Doc(path).Set(ctx, resolveMap(data))
	}
	return wrapRPC("firestore.set", err)
}

func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	updates := make([]cfs.Update, 0, len(fields))
	for fieldPath, v := range fields {
		updates = append(updates, cfs.Update{Path: fieldPath, Value: resolveValue(v)})
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.fs.Doc(path).Update(ctx, updates)
	return wrapRPC("firestore.update", err)
}

func (c *Client) Get(ctx context.Context, path string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	snap, err := c.fs.Doc(path).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrapRPC("firestore.get", err)
	}
	return snap.Data(), nil
}

func (c *Client) Delete(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.fs.Doc(path).Delete(ctx)
	return wrapRPC("firestore.delete", err)
}

func (c *Client) OnSnapshot(path string, fn func(map[string]any)) (func(), error) {
	ctx, cancel := context.WithCancel(c.watchCtx)
	go func() {
		backoff := backoffStart
		for ctx.Err() == nil {
			it := c.fs.Doc(path).Snapshots(ctx)
			for {
				snap, err := it.Next()
				if err != nil {
					break
				}
				backoff = backoffStart
				if !snap.Exists() {
					fn(nil)
					continue
				}
				fn(snap.Data())
			}
			it.Stop()
			if !c.sleepBackoff(ctx, path, &backoff) {
				return
			}
		}
	}()
	return cancel, nil
}

func (c *Client) OnCollection(path string, fn func([]store.Change)) (func(), error) {
	ctx, cancel := context.WithCancel(c.watchCtx)
	go func() {
		backoff := backoffStart
		for ctx.Err() == nil {
			it := c.fs.Collection(path).Snapshots(ctx)
			for {
				qsnap, err := it.Next()
				if err != nil {
					break
				}
				backoff = backoffStart
				changes := make([]store.Change, 0, len(qsnap.Changes))
				for _, ch := range qsnap.Changes {
					changes = append(changes, store.Change{
						Kind: kindOf(ch.Kind),
						ID:   ch.Doc.Ref.ID,
						Data: ch.Doc.Data(),
					})
				}
				if len(changes) > 0 {
					fn(changes)
				}
			}
			it.Stop()
			if !c.sleepBackoff(ctx, path, &backoff) {
				return
			}
		}
	}()
	return cancel, nil
}

func (c *Client) Close() error {
	c.watchCancel()
	return c.fs.Close()
}

// sleepBackoff waits before the next watch attempt. Returns false when the
// subscription has been cancelled.
func (c *Client) sleepBackoff(ctx context.Context, path string, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	c.log.Warnw("watch interrupted, reconnecting", "path", path, "backoff", backoff.String())
	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff):
	}
	if *backoff *= 2; *backoff > backoffCap {
		*backoff = backoffCap
	}
	return true
}

func kindOf(k cfs.DocumentChangeKind) store.ChangeKind {
	switch k {
	case cfs.DocumentAdded:
		return store.Added
	case cfs.DocumentRemoved:
		return store.Removed
	default:
		return store.Modified
	}
}

func wrapRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	code := errcode.Unavailable
	if status.Code(err) == codes.DeadlineExceeded {
		code = errcode.Timeout
	}
	return errcode.Wrap(code, op, "", err)
}

func resolveMap(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = resolveValue(v)
	}
	return out
}

func resolveValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return resolveMap(t)
	default:
		if v == store.ServerTimestamp {
			return cfs.ServerTimestamp
		}
		return v
	}
}
