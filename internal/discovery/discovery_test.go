package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func reply(t *testing.T, name string, mac [6]byte) []byte {
	t.Helper()
	b := make([]byte, 170)
	copy(b[3:7], []byte{192, 168, 1, 20})
	b[19], b[20] = 0x0f, 0xa2 // 4002
	b[21], b[22] = 0x10, 0x64 // 4196
	b[23] = 2
	copy(b[34:40], mac[:])
	enc, err := simplifiedchinese.GBK.NewEncoder().String(name)
	require.NoError(t, err)
	copy(b[41:52], enc)
	b[106] = 17
	copy(b[108:112], []byte{230, 90, 76, 1})
	return b
}

func TestProbe(t *testing.T) {
	p := Probe()
	require.Len(t, p, 170)
	assert.Equal(t, []byte{0x5a, 0x4c, 0x00}, p[:3])
	for _, b := range p[3:] {
		require.Zero(t, b)
	}
}

func TestParseResponse(t *testing.T) {
	gw, err := ParseResponse(reply(t, "客厅", [6]byte{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0xef}))
	require.NoError(t, err)

	assert.Equal(t, Gateway{
		IP:        "192.168.1.20",
		Name:      "客厅",
		LocalPort: 4002,
		DestPort:  4196,
		GroupIP:   "230.90.76.1",
		Version:   "V1.400",
		MAC:       "00-1A-2B-3C-4D-EF",
		SID:       "001A2B3C4DEF",
		WorkMode:  2,
	}, gw)
}

func TestParseResponseNames(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"ascii", []byte("Gateway\x00junk"), "Gateway"},
		{"fills field", []byte("ABCDEFGHIJK"), "ABCDEFGHIJK"},
		{"empty", []byte{0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := reply(t, "", [6]byte{1, 2, 3, 4, 5, 6})
			copy(b[41:52], make([]byte, 11))
			copy(b[41:52], tt.raw)
			gw, err := ParseResponse(b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, gw.Name)
		})
	}
}

func TestParseResponseShort(t *testing.T) {
	_, err := ParseResponse(make([]byte, 100))
	assert.ErrorIs(t, err, ErrShortResponse)
}

func TestSearchCollectsReplies(t *testing.T) {
	responder, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer responder.Close()

	probes := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 512)
		n, from, err := responder.ReadFrom(buf)
		if err != nil {
			return
		}
		probes <- append([]byte(nil), buf[:n]...)
		responder.WriteTo(reply(t, "Hall", [6]byte{1, 2, 3, 4, 5, 6}), from) //nolint:errcheck
		responder.WriteTo([]byte("noise"), from)                                  //nolint:errcheck
		responder.WriteTo(reply(t, "Hall", [6]byte{1, 2, 3, 4, 5, 6}), from)      //nolint:errcheck
		responder.WriteTo(reply(t, "Attic", [6]byte{0, 0, 0, 0, 0, 1}), from)     //nolint:errcheck
	}()

	var seen int
	s := New(Options{
		Port:      responder.LocalAddr().(*net.UDPAddr).Port,
		Broadcast: "127.0.0.1",
		Timeout:   500 * time.Millisecond,
		OnFound:   func(Gateway) { seen++ },
	})

	got, err := s.Search(context.Background())
	require.NoError(t, err)

	select {
	case p := <-probes:
		assert.Equal(t, Probe(), p)
	default:
		t.Fatal("responder never received the probe")
	}

	require.Len(t, got, 2)
	assert.Equal(t, "000000000001", got[0].SID)
	assert.Equal(t, "Attic", got[0].Name)
	assert.Equal(t, "Hall", got[1].Name)
	assert.Equal(t, 3, seen)
}

func TestSearchHonoursContext(t *testing.T) {
	s := New(Options{Broadcast: "127.0.0.1", Port: 9, Timeout: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	got, err := s.Search(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSearchRejectsBadBroadcast(t *testing.T) {
	_, err := New(Options{Broadcast: "not-an-ip"}).Search(context.Background())
	assert.Error(t, err)
}
