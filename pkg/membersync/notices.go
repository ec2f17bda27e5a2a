package membersync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	noticeFanout  = 8
	noticeTimeout = 30 * time.Second
)

// noticeQueue delivers administrator notices on a background worker.
// Enqueueing never blocks; a full queue drops the notice.
type noticeQueue struct {
	notifier Notifier
	accounts AccountStore
	logger   Logger
	metrics  Metrics

	queue    chan Notice
	shutdown chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func newNoticeQueue(notifier Notifier, accounts AccountStore, logger Logger, metrics Metrics, size int) *noticeQueue {
	q := &noticeQueue{
		notifier: notifier,
		accounts: accounts,
		logger:   logger,
		metrics:  metrics,
		queue:    make(chan Notice, size),
		shutdown: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *noticeQueue) enqueue(n Notice) {
	select {
	case <-q.shutdown:
		q.logger.Warn("notice queue closed, dropping notice", Field{"kind", n.Kind}, Field{"uid", n.AccountUID})
		return
	default:
	}

	select {
	case q.queue <- n:
	default:
		q.metrics.RecordNotice(n.Kind, false)
		q.logger.Warn("notice queue full, dropping notice", Field{"kind", n.Kind}, Field{"uid", n.AccountUID})
	}
}

func (q *noticeQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case n := <-q.queue:
			q.deliver(n)
		case <-q.shutdown:
			// Drain what is already queued
			for {
				select {
				case n := <-q.queue:
					q.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (q *noticeQueue) deliver(n Notice) {
	ctx, cancel := context.WithTimeout(context.Background(), noticeTimeout)
	defer cancel()

	admins, err := q.accounts.ListAdmins(ctx)
	if err != nil {
		q.metrics.RecordNotice(n.Kind, false)
		q.logger.Warn("failed to list admins for notice", Field{"kind", n.Kind}, Field{"error", err})
		return
	}

	var failed atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(noticeFanout)
	for _, uid := range admins {
		uid := uid
		g.Go(func() error {
			err := q.notifier.Notify(ctx, uid, n)
			q.metrics.RecordNotice(n.Kind, err == nil)
			if err != nil {
				failed.Add(1)
				return fmt.Errorf("notify %s: %w", uid, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		q.logger.Warn("admin notice delivery failed",
			Field{"kind", n.Kind},
			Field{"uid", n.AccountUID},
			Field{"failed", failed.Load()},
			Field{"error", err},
		)
	}
}

func (q *noticeQueue) close() {
	q.once.Do(func() {
		close(q.shutdown)
		q.wg.Wait()
	})
}
