package acars

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"skywatchcore/pkg/models"
)

// datagramMax is large enough for any single ACARS/VDL2 JSON datagram
// acarsdec or dumpvdl2 emits.
const datagramMax = 8192

// listener owns one UDP socket and hands a copy of each datagram's raw bytes
// to the onDatagram callback for the service to normalize.
type listener struct {
	channel models.AcarsChannel
	addr    string
	conn    *net.UDPConn
}

func newListener(channel models.AcarsChannel, port int) *listener {
	return &listener{channel: channel, addr: fmt.Sprintf(":%d", port)}
}

// run binds the socket and reads datagrams until ctx is cancelled, invoking
// onDatagram for each one. Bind failures are returned so the caller can
// decide whether a missing listener is fatal.
func (l *listener) run(ctx context.Context, onDatagram func(channel models.AcarsChannel, data []byte, recvAt time.Time)) error {
	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return fmt.Errorf("acars: resolve %s listener addr: %w", l.channel, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("acars: bind %s listener on %s: %w", l.channel, l.addr, err)
	}
	l.conn = conn
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, datagramMax)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[ACARS] %s listener read error: %v", l.channel, err)
			continue
		}
		recvAt := time.Now().UTC()
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		onDatagram(l.channel, datagram, recvAt)
	}
}
