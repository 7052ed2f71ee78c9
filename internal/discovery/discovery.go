// Package discovery finds KLW gateways on the local network.
//
// A scanner broadcasts a 170-byte probe to UDP port 1092 and collects the
// replies for a few seconds. It also joins the gateways' multicast group so
// replies sent there are seen. Each reply describes one gateway: its
// address, name, MAC, firmware version and work mode.
//
// A Scanner is an ordinary value: create one per search, or keep one to
// accumulate gateways across searches.
package discovery

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/text/encoding/simplifiedchinese"
)

const (
	// DefaultPort is the UDP port gateways listen on for probes.
	DefaultPort = 1092

	// DefaultMulticastGroup is the group gateways answer on.
	DefaultMulticastGroup = "230.90.76.1"

	// DefaultTimeout is how long a search listens for replies.
	DefaultTimeout = 4 * time.Second

	defaultBroadcast = "255.255.255.255"
	probeSize        = 170
	multicastTTL     = 128
	maxDatagram      = 1024

	// minResponseSize covers the furthest field read from a reply.
	minResponseSize = 112

	nameOffset = 41
	nameEnd    = 52
	macOffset  = 34
	macEnd     = 40
)

// ErrShortResponse is returned for replies too small to describe a gateway.
var ErrShortResponse = errors.New("discovery: short response")

// Gateway describes one gateway that answered a probe.
type Gateway struct {
	IP        string `json:"ip"`
	Name      string `json:"name"`
	LocalPort int    `json:"local_port"`
	DestPort  int    `json:"dest_port"`
	GroupIP   string `json:"group_ip"`
	Version   string `json:"version"`
	MAC       string `json:"mac"`
	SID       string `json:"sid"`
	WorkMode  int    `json:"work_mode"`
}

// Logger is the logging interface used by the scanner.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Options configures a Scanner. Zero values select the defaults.
type Options struct {
	Port           int
	Broadcast      string
	MulticastGroup string
	Timeout        time.Duration

	// OnFound is called once per reply, including repeated replies from
	// the same gateway.
	OnFound func(Gateway)

	Logger Logger
}

// Scanner broadcasts probes and collects gateway replies keyed by SID.
type Scanner struct {
	opts Options

	mu    sync.Mutex
	found map[string]Gateway
}

// New creates a scanner.
func New(opts Options) *Scanner {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Broadcast == "" {
		opts.Broadcast = defaultBroadcast
	}
	if opts.MulticastGroup == "" {
		opts.MulticastGroup = DefaultMulticastGroup
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &Scanner{opts: opts, found: make(map[string]Gateway)}
}

// Probe returns the search datagram.
func Probe() []byte {
	b := make([]byte, probeSize)
	b[0], b[1], b[2] = 0x5a, 0x4c, 0x00
	return b
}

// Search sends one probe and listens until the timeout or ctx ends. It
// returns every gateway seen so far, including those from earlier searches.
func (s *Scanner) Search(ctx context.Context) ([]Gateway, error) {
	lc := net.ListenConfig{Control: broadcastControl}
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("discovery: listen: %w", err)
	}
	defer pc.Close()

	s.joinGroup(pc)

	dst := &net.UDPAddr{IP: net.ParseIP(s.opts.Broadcast), Port: s.opts.Port}
	if dst.IP == nil {
		return nil, fmt.Errorf("discovery: invalid broadcast address %q", s.opts.Broadcast)
	}
	if _, err := pc.WriteTo(Probe(), dst); err != nil {
		return nil, fmt.Errorf("discovery: send probe: %w", err)
	}

	deadline := time.Now().Add(s.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := pc.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("discovery: set deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		pc.SetReadDeadline(time.Now()) //nolint:errcheck // best effort wake-up
	})
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			return s.Gateways(), fmt.Errorf("discovery: read: %w", err)
		}

		gw, err := ParseResponse(buf[:n])
		if err != nil {
			s.opts.Logger.Debug("ignoring discovery reply", "from", from.String(), "error", err)
			continue
		}
		s.mu.Lock()
		s.found[gw.SID] = gw
		s.mu.Unlock()
		if s.opts.OnFound != nil {
			s.opts.OnFound(gw)
		}
	}
	return s.Gateways(), nil
}

// joinGroup subscribes pc to the multicast group. Failure only narrows
// what the search can hear.
func (s *Scanner) joinGroup(pc net.PacketConn) {
	group := net.ParseIP(s.opts.MulticastGroup)
	if group == nil {
		s.opts.Logger.Warn("invalid multicast group", "group", s.opts.MulticastGroup)
		return
	}
	p := ipv4.NewPacketConn(pc)
	if err := p.SetMulticastTTL(multicastTTL); err != nil {
		s.opts.Logger.Debug("setting multicast TTL failed", "error", err)
	}
	if err := p.JoinGroup(nil, &net.UDPAddr{IP: group}); err != nil {
		s.opts.Logger.Debug("joining multicast group failed", "group", group.String(), "error", err)
	}
}

// Gateways returns the gateways found so far, ordered by SID.
func (s *Scanner) Gateways() []Gateway {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Gateway, 0, len(s.found))
	for _, gw := range s.found {
		out = append(out, gw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SID < out[j].SID })
	return out
}

// ParseResponse decodes a gateway reply.
func ParseResponse(buf []byte) (Gateway, error) {
	if len(buf) < minResponseSize {
		return Gateway{}, fmt.Errorf("%w: %d bytes", ErrShortResponse, len(buf))
	}

	mac := buf[macOffset:macEnd]
	parts := make([]string, len(mac))
	for i, b := range mac {
		parts[i] = fmt.Sprintf("%02X", b)
	}

	return Gateway{
		IP:        net.IPv4(buf[3], buf[4], buf[5], buf[6]).String(),
		Name:      decodeName(buf[nameOffset:nameEnd]),
		LocalPort: int(buf[19])<<8 | int(buf[20]),
		DestPort:  int(buf[21])<<8 | int(buf[22]),
		GroupIP:   net.IPv4(buf[108], buf[109], buf[110], buf[111]).String(),
		Version:   fmt.Sprintf("V1.%d", int(buf[106])+383),
		MAC:       strings.Join(parts, "-"),
		SID:       strings.ToUpper(hex.EncodeToString(mac)),
		WorkMode:  int(buf[23]),
	}, nil
}

// decodeName reads a NUL-terminated GBK name.
func decodeName(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	name, err := simplifiedchinese.GBK.NewDecoder().Bytes(b)
	if err != nil {
		return "Unknown"
	}
	return string(name)
}
