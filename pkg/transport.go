package protocol

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"
)

const maxDatagramSize = 65535

// PacketConn is the socket Serve reads from and the engine writes to.
type PacketConn interface {
	Transport
	ReadFrom(b []byte) (int, netip.AddrPort, error)
	Close() error
}

// UDPTransport is a UDP socket bound to every local IPv4 address.
type UDPTransport struct {
	conn *net.UDPConn
}

// Listen binds 0.0.0.0:port. A non-zero tos is set as the IP type of service of every datagram.
func Listen(port int, tos int) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, errors.Wrapf(err, "binding port %d", port)
	}
	if tos != 0 {
		if err := ipv4.NewConn(conn).SetTOS(tos); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "setting TOS %#x", tos)
		}
	}
	return &UDPTransport{conn: conn}, nil
}

func (t *UDPTransport) SendTo(b []byte, to netip.AddrPort) error {
	_, err := t.conn.WriteToUDPAddrPort(b, to)
	return err
}

func (t *UDPTransport) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	n, from, err := t.conn.ReadFromUDPAddrPort(b)
	return n, unmap(from), err
}

func (t *UDPTransport) LocalAddr() netip.AddrPort {
	return t.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// Serve feeds the engine from two goroutines: one reading datagrams from conn and one ticking
// the timers. It returns when ctx is cancelled or the socket fails, closing conn either way.
func Serve(ctx context.Context, e *Engine, conn PacketConn) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		conn.Close()
		return nil
	})

	g.Go(func() error {
		buf := make([]byte, maxDatagramSize)
		for {
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "reading datagram")
			}
			e.HandleDatagram(buf[:n], from)
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				e.Tick()
			}
		}
	})

	return g.Wait()
}
