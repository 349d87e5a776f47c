package samAuth

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// notification is one queued outbound message. Params follow the template
// contract of the hosting mailer (code, link, display name, expiry minutes).
type notification struct {
	Destination string
	Template    string
	Params      map[string]string
}

// notifyDispatcher delivers notifications asynchronously. A Send failure is
// observable only through logs and the dropped counter; it never fails the
// state transition that queued the message.
type notifyDispatcher struct {
	cfg       NotifyConfig
	sink      Notifier
	ch        chan notification
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newNotifyDispatcher(cfg NotifyConfig, sink Notifier) *notifyDispatcher {
	if !cfg.Enabled || sink == nil {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	d := &notifyDispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan notification, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *notifyDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case n := <-d.ch:
			d.deliver(n)
		case <-d.done:
			for {
				select {
				case n := <-d.ch:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *notifyDispatcher) deliver(n notification) {
	if err := d.sink.Send(context.Background(), n.Destination, n.Template, n.Params); err != nil {
		log.Print("samAuth: notification delivery failed")
	}
}

// Enqueue describes the enqueue operation and its observable behavior.
//
// Enqueue may return an error when input validation, dependency calls, or security checks fail.
// Enqueue does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (d *notifyDispatcher) Enqueue(ctx context.Context, n notification) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- n:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- n:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (d *notifyDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped describes the dropped operation and its observable behavior.
//
// Dropped may return an error when input validation, dependency calls, or security checks fail.
// Dropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (d *notifyDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
