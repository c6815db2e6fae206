// Package emulator forwards datagrams between two hosts over a lossy, slow link so that the
// retransmission paths of the protocol can be exercised on a real network.
package emulator

import (
	"container/heap"
	"context"
	"math/rand"
	"net/netip"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	protocol "kgp/pkg"
	"kgp/priorityQueue"
)

const (
	maxDatagramSize = 65535
	idlePoll        = 50 * time.Millisecond
)

type Config struct {
	Hosts    [2]netip.AddrPort
	LossRate float64       // probability in [0, 1] of dropping a datagram
	Delay    time.Duration // added to every forwarded datagram
	Seed     int64
}

// Stats counts what happened to inbound datagrams.
type Stats struct {
	Received  uint64
	Dropped   uint64
	Rejected  uint64 // from neither host
	Forwarded uint64
}

type Forwarder struct {
	cfg  Config
	conn protocol.PacketConn
	log  *zap.Logger
	now  func() time.Time

	mu    sync.Mutex
	rnd   *rand.Rand
	queue priorityQueue.PriorityQueue
	seq   uint64
	stats Stats
	wake  chan struct{}
}

func New(cfg Config, conn protocol.PacketConn, log *zap.Logger) (*Forwarder, error) {
	for _, h := range cfg.Hosts {
		if !h.IsValid() {
			return nil, errors.Errorf("invalid host %s", h)
		}
	}
	if cfg.LossRate < 0 || cfg.LossRate > 1 {
		return nil, errors.Errorf("loss rate %v out of range", cfg.LossRate)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Forwarder{
		cfg:  cfg,
		conn: conn,
		log:  log,
		now:  time.Now,
		rnd:  rand.New(rand.NewSource(cfg.Seed)),
		wake: make(chan struct{}, 1),
	}, nil
}

func (f *Forwarder) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Pending is the number of datagrams waiting for their release time.
func (f *Forwarder) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Len()
}

// Run forwards until ctx is cancelled. It closes conn on return.
func (f *Forwarder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		f.conn.Close()
		return nil
	})

	g.Go(func() error {
		buf := make([]byte, maxDatagramSize)
		for {
			n, from, err := f.conn.ReadFrom(buf)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "reading datagram")
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			if f.accept(data, from, f.now()) {
				select {
				case f.wake <- struct{}{}:
				default:
				}
			}
		}
	})

	g.Go(func() error {
		timer := time.NewTimer(idlePoll)
		defer timer.Stop()
		for {
			f.release(f.now())

			wait := idlePoll
			f.mu.Lock()
			if next := f.queue.Peek(); next != nil {
				wait = next.Release.Sub(f.now())
			}
			f.mu.Unlock()
			timer.Reset(wait)

			select {
			case <-ctx.Done():
				return nil
			case <-f.wake:
			case <-timer.C:
			}
		}
	})

	return g.Wait()
}

// accept drops or queues one inbound datagram and reports whether it was queued.
func (f *Forwarder) accept(data []byte, from netip.AddrPort, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stats.Received++
	if _, ok := f.destination(from); !ok {
		f.stats.Rejected++
		f.log.Error("datagram from unknown host", zap.Stringer("from", from))
		return false
	}
	if f.rnd.Float64() < f.cfg.LossRate {
		f.stats.Dropped++
		f.log.Info("packet dropped", zap.Stringer("from", from), zap.Int("bytes", len(data)))
		return false
	}

	f.seq++
	heap.Push(&f.queue, &priorityQueue.DelayedDatagram{
		Release: now.Add(f.cfg.Delay),
		Seq:     f.seq,
		From:    from,
		Data:    data,
	})
	return true
}

// release sends every datagram that has waited long enough to the other host.
func (f *Forwarder) release(now time.Time) {
	f.mu.Lock()
	due := f.queue.PopDue(now)
	f.mu.Unlock()

	for _, d := range due {
		to, _ := f.destination(d.From)
		if err := f.conn.SendTo(d.Data, to); err != nil {
			f.log.Error("could not forward datagram", zap.Stringer("to", to), zap.Error(err))
			continue
		}
		f.mu.Lock()
		f.stats.Forwarded++
		f.mu.Unlock()
		f.log.Debug("forwarded", zap.Stringer("from", d.From), zap.Stringer("to", to), zap.Int("bytes", len(d.Data)))
	}
}

func (f *Forwarder) destination(from netip.AddrPort) (netip.AddrPort, bool) {
	switch from {
	case f.cfg.Hosts[0]:
		return f.cfg.Hosts[1], true
	case f.cfg.Hosts[1]:
		return f.cfg.Hosts[0], true
	default:
		return netip.AddrPort{}, false
	}
}
