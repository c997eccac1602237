package notify

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"github.com/rustyeddy/autotrader/internal/clock"
)

type Options struct {
	Buffer      int
	SendTimeout time.Duration
	// PerHour caps non-critical alerts per category; 0 disables the cap.
	PerHour int
	Clock   clock.Clock
}

func DefaultOptions() Options {
	return Options{Buffer: 64, SendTimeout: 5 * time.Second, PerHour: 10}
}

type route struct {
	ch  Channel
	min Severity
}

// Dispatcher queues alerts and fans them out to channels from a single
// worker goroutine. Notify never blocks; alerts are dropped when the
// queue is full.
type Dispatcher struct {
	opt    Options
	routes []route
	queue  chan Alert

	mu     sync.Mutex
	sent   map[Category][]time.Time
	closed bool

	done chan struct{}
	once sync.Once
}

func NewDispatcher(opt Options) *Dispatcher {
	if opt.Buffer <= 0 {
		opt.Buffer = 64
	}
	if opt.SendTimeout <= 0 {
		opt.SendTimeout = 5 * time.Second
	}
	if opt.Clock == nil {
		opt.Clock = clock.Real{}
	}
	d := &Dispatcher{
		opt:   opt,
		queue: make(chan Alert, opt.Buffer),
		sent:  make(map[Category][]time.Time),
		done:  make(chan struct{}),
	}
	go d.loop()
	return d
}

// Add registers a channel that receives alerts at or above min. It must
// be called before the first Notify.
func (d *Dispatcher) Add(ch Channel, min Severity) {
	d.routes = append(d.routes, route{ch: ch, min: min})
}

func (d *Dispatcher) Notify(sev Severity, cat Category, msg string, data map[string]any) {
	now := d.opt.Clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if !d.allow(sev, cat, now) {
		logs.Warnf("alert rate limited: %s %s", cat, msg)
		return
	}

	select {
	case d.queue <- Alert{Severity: sev, Category: cat, Message: msg, Data: data, Time: now}:
	default:
		logs.Errorf("alert queue full, dropping %s: %s", cat, msg)
	}
}

// allow applies the hourly per-category cap. Critical alerts always pass.
func (d *Dispatcher) allow(sev Severity, cat Category, now time.Time) bool {
	if sev == Critical || d.opt.PerHour <= 0 {
		return true
	}
	cutoff := now.Add(-time.Hour)
	recent := d.sent[cat][:0]
	for _, t := range d.sent[cat] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= d.opt.PerHour {
		d.sent[cat] = recent
		return false
	}
	d.sent[cat] = append(recent, now)
	return true
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for a := range d.queue {
		d.deliver(a)
	}
}

func (d *Dispatcher) deliver(a Alert) {
	for _, r := range d.routes {
		if a.Severity < r.min {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.opt.SendTimeout)
		if err := r.ch.Send(ctx, a); err != nil {
			logs.Errorf("alert channel %s: %v", r.ch.Name(), err)
		}
		cancel()
	}
}

// Close stops accepting alerts and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	<-d.done
}
