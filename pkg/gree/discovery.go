package gree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"gopkg.in/tomb.v2"
)

// Listener is notified about units found by a scan.
type Listener interface {
	DeviceFound(ctx context.Context, info *DeviceInfo)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, info *DeviceInfo)

// DeviceFound calls f.
func (f ListenerFunc) DeviceFound(ctx context.Context, info *DeviceInfo) { f(ctx, info) }

// Discovery finds units by broadcasting a scan request.
type Discovery struct {
	cfg    *config
	logger *slog.Logger

	mu        sync.Mutex
	listeners []Listener
}

// NewDiscovery creates a scanner. WithPort sets the port units listen on and
// WithBroadcastAddress restricts the scanned addresses.
func NewDiscovery(opts ...Option) (*Discovery, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	if cfg.listen == nil {
		cfg.listen = listenBroadcast
	}
	return &Discovery{cfg: cfg, logger: cfg.log()}, nil
}

// AddListener registers l for the following scans.
func (d *Discovery) AddListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Scan broadcasts a scan request and collects answers until the context is
// done. If the context has no deadline, a 3-second timeout is applied.
// Listeners run concurrently and Scan waits for them before returning.
func (d *Discovery) Scan(ctx context.Context) ([]*DeviceInfo, error) {
	parent := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
	}

	targets, err := d.targets()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.Unlock()

	var (
		mu      sync.Mutex
		results []*DeviceInfo
		tasks   tomb.Tomb
	)
	found := func(info *DeviceInfo) {
		mu.Lock()
		for _, r := range results {
			if r.Equal(info) {
				mu.Unlock()
				return
			}
		}
		results = append(results, info)
		mu.Unlock()

		d.logger.Info("found device", "device", info.String())
		for _, l := range listeners {
			tasks.Go(func() error {
				l.DeviceFound(parent, info)
				return nil
			})
		}
	}

	proto := newProtocol(d.cfg)
	proto.SetCipher(NewCipherV1())
	if _, err := proto.AddHandler(ResponseDevice, func(r *Response) { found(r.Device) }); err != nil {
		return nil, err
	}
	proto.OnUnknownPacket(func(pkt *Packet, addr net.Addr) {
		// Units using the newer cipher answer the scan with a GCM pack.
		if info := decodeScanV2(pkt, addr); info != nil {
			found(info)
			return
		}
		d.logger.Debug("ignoring packet during scan", "addr", addr)
	})

	// Keeps the tomb alive until the scan is over.
	tasks.Go(func() error {
		<-tasks.Dying()
		return nil
	})
	if err := proto.Open(ctx, nil); err != nil {
		tasks.Kill(nil)
		tasks.Wait()
		return nil, err
	}

	for _, ip := range targets {
		addr := &net.UDPAddr{IP: ip, Port: d.cfg.port}
		d.logger.Debug("sending scan", "addr", addr)
		if err := proto.Send(ctx, NewScanMessage(), addr, nil); err != nil {
			d.logger.Warn("failed to send scan", "addr", addr, "error", err)
		}
	}

	<-ctx.Done()
	closeErr := proto.Close()
	tasks.Kill(nil)
	tasks.Wait()

	mu.Lock()
	defer mu.Unlock()
	if err := proto.Err(); err != nil {
		return results, err
	}
	return results, closeErr
}

func decodeScanV2(pkt *Packet, addr net.Addr) *DeviceInfo {
	enc, ok := pkt.EncryptedPack()
	if !ok {
		return nil
	}
	var plain json.RawMessage
	if err := NewCipherV2().Decrypt(enc, &plain); err != nil {
		return nil
	}
	decoded := *pkt
	decoded.Pack = plain
	resp, err := Extract(&decoded, addr)
	if err != nil || resp.Type != ResponseDevice {
		return nil
	}
	return resp.Device
}

func (d *Discovery) targets() ([]net.IP, error) {
	if len(d.cfg.broadcast) > 0 {
		ips := make([]net.IP, 0, len(d.cfg.broadcast))
		for _, a := range d.cfg.broadcast {
			ips = append(ips, net.ParseIP(a))
		}
		return ips, nil
	}
	ips, err := broadcastAddrs()
	if err != nil {
		return nil, fmt.Errorf("get broadcast addresses: %w", err)
	}
	if len(ips) == 0 {
		return nil, errors.New("no broadcast capable interface found")
	}
	return ips, nil
}

// broadcastAddrs returns the IPv4 broadcast address of every interface that
// is up and not a loopback.
func broadcastAddrs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || len(ipnet.Mask) != net.IPv4len {
				continue
			}
			bcast := make(net.IP, net.IPv4len)
			for i := range ip4 {
				bcast[i] = ip4[i] | ^ipnet.Mask[i]
			}
			ips = append(ips, bcast)
		}
	}
	return ips, nil
}

func listenBroadcast(ctx context.Context) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: broadcastControl}
	return lc.ListenPacket(ctx, "udp4", ":0")
}
