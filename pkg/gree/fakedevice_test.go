package gree

import (
	"encoding/json"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSessionKey = "0123456789abcdef"

// fakeDevice is a unit on the loopback interface. It answers bind, status,
// cmd and scan requests encrypted with the cipher version it accepts.
type fakeDevice struct {
	t       *testing.T
	conn    *net.UDPConn
	mac     string
	version string // "v1", "v2" or "" to never answer

	mu       sync.Mutex
	state    map[string]any
	session  Cipher
	requests []map[string]any
	scans    int
	done     chan struct{}
}

func newFakeDevice(t *testing.T, version string) *fakeDevice {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	f := &fakeDevice{
		t:       t,
		conn:    conn,
		mac:     "f4911e7aca59",
		version: version,
		state:   map[string]any{"Pow": 1, "Mod": 1, "SetTem": 24, "TemSen": 66},
		done:    make(chan struct{}),
	}
	go f.serve()
	t.Cleanup(func() {
		conn.Close()
		<-f.done
	})
	return f
}

func (f *fakeDevice) port() int {
	return f.conn.LocalAddr().(*net.UDPAddr).Port
}

func (f *fakeDevice) info() *DeviceInfo {
	return NewDeviceInfo("127.0.0.1", f.port(), f.mac)
}

func (f *fakeDevice) generic() Cipher {
	if f.version == "v2" {
		return NewCipherV2()
	}
	return NewCipherV1()
}

func (f *fakeDevice) all() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.requests...)
}

func (f *fakeDevice) received(t string) []map[string]any {
	var out []map[string]any
	for _, r := range f.all() {
		if r["t"] == t {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeDevice) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

func (f *fakeDevice) serve() {
	defer close(f.done)
	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := f.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		pkt, err := Decode(buf[:n])
		if err != nil || f.version == "" {
			continue
		}
		f.handle(pkt, addr)
	}
}

func (f *fakeDevice) handle(pkt *Packet, addr net.Addr) {
	if pkt.T == string(CommandScan) {
		f.mu.Lock()
		f.scans++
		f.mu.Unlock()
		f.reply(addr, f.generic(), map[string]any{
			"t": "dev", "cid": f.mac, "name": "fake", "brand": "gree", "model": "gree", "ver": "V1.2.1",
		})
		return
	}

	enc, ok := pkt.EncryptedPack()
	if !ok {
		return
	}
	// GCM requests always carry a tag.
	if (f.version == "v2") != (pkt.Tag != "") {
		return
	}

	f.mu.Lock()
	c := f.session
	f.mu.Unlock()
	if pkt.I == 1 {
		c = f.generic()
	}
	if c == nil {
		return
	}

	var req map[string]any
	if err := c.Decrypt(enc, &req); err != nil {
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	switch req["t"] {
	case "bind":
		f.reply(addr, c, map[string]any{"t": "bindok", "mac": f.mac, "key": testSessionKey, "r": 200})
		session, _ := CipherByName(f.version, testSessionKey)
		f.mu.Lock()
		f.session = session
		f.mu.Unlock()
	case "status":
		cols, _ := req["cols"].([]any)
		dat := make([]any, len(cols))
		f.mu.Lock()
		for i, col := range cols {
			key, _ := col.(string)
			if key == hidKey {
				dat[i] = "362001000762+U-CS532AE(LT)V3.31.bin"
				continue
			}
			v, ok := f.state[key]
			if !ok {
				v = 0
			}
			dat[i] = v
		}
		f.mu.Unlock()
		f.reply(addr, c, map[string]any{"t": "dat", "mac": f.mac, "r": 200, "cols": cols, "dat": dat})
	case "cmd":
		opt, _ := req["opt"].([]any)
		p, _ := req["p"].([]any)
		f.mu.Lock()
		for i, o := range opt {
			if key, ok := o.(string); ok && i < len(p) {
				f.state[key] = normalizeValue(p[i])
			}
		}
		f.mu.Unlock()
		f.reply(addr, c, map[string]any{"t": "res", "mac": f.mac, "r": 200, "opt": opt, "p": p, "val": p})
	}
}

func (f *fakeDevice) reply(addr net.Addr, c Cipher, pack map[string]any) {
	enc, tag, err := c.Encrypt(pack)
	if err != nil {
		f.t.Errorf("fake device: encrypt: %v", err)
		return
	}
	data, err := json.Marshal(map[string]any{
		"t": "pack", "i": 0, "uid": 0, "cid": f.mac, "tcid": "", "pack": enc, "tag": tag,
	})
	if err != nil {
		f.t.Errorf("fake device: marshal: %v", err)
		return
	}
	f.conn.WriteTo(data, addr)
}
