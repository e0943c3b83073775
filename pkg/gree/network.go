package gree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"gopkg.in/tomb.v2"
)

// Handler is called for every dispatched response of the type it was
// registered for. Handlers run on the receive goroutine and must not block
// or call Protocol.Close.
type Handler func(*Response)

// Delegate receives the responses a device session reacts to. Both methods
// run on the receive goroutine.
type Delegate interface {
	HandleDeviceBound(key string)
	HandleStateUpdate(values map[string]any)
}

type handlerEntry struct {
	id int
	fn Handler
}

// Protocol is the UDP request/response engine of one device session, or of
// a broadcast scan. It owns its packet connection.
type Protocol struct {
	timeout        time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger
	metrics        *Metrics
	listen         ListenFunc

	drained *event
	ready   *event

	mu       sync.Mutex
	conn     net.PacketConn
	remote   net.Addr
	tomb     *tomb.Tomb
	lost     error
	cipher   Cipher
	delegate Delegate
	unknown  func(*Packet, net.Addr)
	handlers map[ResponseType][]handlerEntry
	nextID   int
	waiters  map[ResponseType][]chan *Response
}

// NewProtocol creates an engine. No socket is opened until Open or Attach.
func NewProtocol(opts ...Option) (*Protocol, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return newProtocol(cfg), nil
}

func newProtocol(cfg *config) *Protocol {
	listen := cfg.listen
	if listen == nil {
		listen = listenUDP
	}
	return &Protocol{
		timeout:        cfg.timeout,
		requestTimeout: cfg.requestTimeout,
		logger:         cfg.log(),
		metrics:        cfg.metrics,
		listen:         listen,
		drained:        newEvent(true),
		ready:          newEvent(false),
		handlers:       make(map[ResponseType][]handlerEntry),
		waiters:        make(map[ResponseType][]chan *Response),
	}
}

// SetDelegate installs the receiver of bind and state update events.
func (p *Protocol) SetDelegate(d Delegate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delegate = d
}

// OnUnknownPacket replaces the handler for packets that cannot be
// dispatched. The default logs them.
func (p *Protocol) OnUnknownPacket(fn func(*Packet, net.Addr)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unknown = fn
}

// Cipher returns the active cipher, or nil before binding.
func (p *Protocol) Cipher() Cipher {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cipher
}

// SetCipher installs the active cipher.
func (p *Protocol) SetCipher(c Cipher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cipher = c
}

// DeviceKey returns the key of the active cipher.
func (p *Protocol) DeviceKey() (string, error) {
	c := p.Cipher()
	if c == nil {
		return "", fmt.Errorf("%w: cipher not set", ErrConfiguration)
	}
	return c.Key(), nil
}

// SetDeviceKey replaces the key of the active cipher.
func (p *Protocol) SetDeviceKey(key string) error {
	c := p.Cipher()
	if c == nil {
		return fmt.Errorf("%w: cipher not set", ErrConfiguration)
	}
	c.SetKey(key)
	return nil
}

// Open creates the local endpoint for talking to remote. It does nothing
// when an endpoint is already open.
func (p *Protocol) Open(ctx context.Context, remote net.Addr) error {
	p.mu.Lock()
	open := p.conn != nil
	p.mu.Unlock()
	if open {
		return nil
	}

	conn, err := p.listen(ctx)
	if err != nil {
		return fmt.Errorf("open endpoint: %w", err)
	}
	p.Attach(conn, remote)
	return nil
}

// Attach takes ownership of conn and starts receiving from it. Replies are
// sent to remote unless Send is given another address.
func (p *Protocol) Attach(conn net.PacketConn, remote net.Addr) {
	t := new(tomb.Tomb)

	p.mu.Lock()
	p.conn = conn
	p.remote = remote
	p.tomb = t
	p.lost = nil
	p.mu.Unlock()

	p.logger.Debug("endpoint opened", "local", conn.LocalAddr(), "remote", remote)
	t.Go(func() error {
		return p.readLoop(t, conn)
	})
}

// Close closes the endpoint. It is safe to call more than once.
func (p *Protocol) Close() error {
	p.mu.Lock()
	conn, t := p.conn, p.tomb
	p.conn, p.tomb = nil, nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	t.Kill(nil)
	err := conn.Close()
	t.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	p.logger.Debug("endpoint closed", "local", conn.LocalAddr())
	return err
}

// Err returns the error that terminated the receive loop, if the connection
// was lost.
func (p *Protocol) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lost
}

func (p *Protocol) readLoop(t *tomb.Tomb, conn net.PacketConn) error {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-t.Dying():
				return nil
			default:
			}
			if errors.Is(err, syscall.ECONNREFUSED) {
				p.logger.Warn("connection reported an error", "error", err)
				continue
			}
			err = fmt.Errorf("%w: %w", ErrConnectionLost, err)
			p.logger.Error("connection was closed unexpectedly", "error", err)
			p.mu.Lock()
			p.lost = err
			p.mu.Unlock()
			conn.Close()
			return err
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		p.DatagramReceived(data, addr)
	}
}

// PauseWriting blocks pending and future sends until ResumeWriting.
func (p *Protocol) PauseWriting() {
	p.drained.Clear()
}

// ResumeWriting releases sends blocked by PauseWriting.
func (p *Protocol) ResumeWriting() {
	p.drained.Set()
}

// Send encrypts the pack of msg, writes the envelope and waits until the
// transport is drained. Key exchange messages are encrypted with bootstrap,
// which then becomes the active cipher. A nil addr sends to the remote given
// to Open.
func (p *Protocol) Send(ctx context.Context, msg *Message, addr net.Addr, bootstrap Cipher) error {
	data, err := p.encode(msg, bootstrap)
	if err != nil {
		return err
	}

	p.mu.Lock()
	conn, remote, lost := p.conn, p.remote, p.lost
	p.mu.Unlock()

	if lost != nil {
		return lost
	}
	if conn == nil {
		return fmt.Errorf("%w: transport is not open", ErrConfiguration)
	}
	if addr == nil {
		addr = remote
	}
	if addr == nil {
		return fmt.Errorf("%w: no destination address", ErrConfiguration)
	}

	if _, err := conn.WriteTo(data, addr); err != nil {
		p.logger.Error("failed to send packet", "addr", addr, "error", err)
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	p.metrics.sent()
	p.logger.Debug("packet sent", "addr", addr, "t", msg.T, "i", msg.I)

	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.drained.Wait(waitCtx); err != nil {
		return waitErr("waiting for transport drain", err)
	}
	return nil
}

func (p *Protocol) encode(msg *Message, bootstrap Cipher) ([]byte, error) {
	w := wireMessage{
		CID:  msg.CID,
		I:    msg.I,
		T:    msg.T,
		UID:  msg.UID,
		TCID: msg.TCID,
	}

	if msg.Pack != nil {
		if msg.KeyExchange() {
			if bootstrap == nil {
				return nil, fmt.Errorf("%w: cipher must be supplied for scan or bind messages", ErrConfiguration)
			}
			p.SetCipher(bootstrap)
		}
		c := p.Cipher()
		if c == nil {
			return nil, fmt.Errorf("%w: cipher not available for encrypting packet", ErrConfiguration)
		}

		pack, tag, err := c.Encrypt(msg.Pack)
		if err != nil {
			return nil, fmt.Errorf("encrypt pack: %w", err)
		}
		w.Pack, w.Tag = pack, tag
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Request sends msg and waits for the next response of type expect. Without
// a context deadline the request timeout applies.
func (p *Protocol) Request(ctx context.Context, msg *Message, expect ResponseType) (*Response, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}

	ch := p.addWaiter(expect)
	defer p.removeWaiter(expect, ch)

	start := time.Now()
	if err := p.Send(ctx, msg, nil, nil); err != nil {
		return nil, err
	}

	p.mu.Lock()
	var dying <-chan struct{}
	if p.tomb != nil {
		dying = p.tomb.Dying()
	}
	p.mu.Unlock()

	select {
	case resp := <-ch:
		p.metrics.observeRequest(Command(msgCommand(msg)), start)
		p.logger.Debug("response received", "type", resp.Type, "elapsed", time.Since(start))
		return resp, nil
	case <-dying:
		if err := p.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: endpoint closed", ErrConnectionLost)
	case <-ctx.Done():
		p.logger.Warn("request timeout", "expect", expect)
		return nil, waitErr(fmt.Sprintf("waiting for %s response", expect), ctx.Err())
	}
}

func msgCommand(msg *Message) string {
	if msg.Pack != nil {
		return msg.Pack.T
	}
	return msg.T
}

func (p *Protocol) addWaiter(t ResponseType) chan *Response {
	ch := make(chan *Response, 1)
	p.mu.Lock()
	p.waiters[t] = append(p.waiters[t], ch)
	p.mu.Unlock()
	return ch
}

func (p *Protocol) removeWaiter(t ResponseType, ch chan *Response) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.waiters[t]
	for i, c := range list {
		if c == ch {
			p.waiters[t] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// deliver hands resp to the oldest waiter of its type.
func (p *Protocol) deliver(resp *Response) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.waiters[resp.Type]
	if len(list) == 0 {
		return
	}
	list[0] <- resp
	p.waiters[resp.Type] = list[1:]
}

// waitReady waits for the bind acknowledgement of the current attempt.
func (p *Protocol) waitReady(ctx context.Context) error {
	if err := p.ready.Wait(ctx); err != nil {
		return waitErr("waiting for bind acknowledgement", err)
	}
	return nil
}

func (p *Protocol) resetReady() {
	p.ready.Clear()
}

// AddHandler registers fn for responses of type t. The returned function
// removes the registration.
func (p *Protocol) AddHandler(t ResponseType, fn Handler) (func(), error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: invalid event name %q", ErrConfiguration, t)
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.handlers[t] = append(p.handlers[t], handlerEntry{id: id, fn: fn})
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		list := p.handlers[t]
		for i, h := range list {
			if h.id == id {
				p.handlers[t] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}, nil
}

// DatagramReceived decodes and decrypts a raw datagram and dispatches it.
// Malformed input is logged and dropped.
func (p *Protocol) DatagramReceived(data []byte, addr net.Addr) {
	p.metrics.received()
	if len(data) == 0 {
		p.logger.Warn("received empty datagram", "addr", addr)
		return
	}

	pkt, err := Decode(data)
	if err != nil {
		p.logger.Error("failed to decode datagram", "addr", addr, "error", err)
		return
	}

	if enc, ok := pkt.EncryptedPack(); ok {
		if c := p.Cipher(); c == nil {
			p.logger.Warn("encrypted data received but no cipher available", "addr", addr)
		} else {
			var plain json.RawMessage
			if err := c.Decrypt(enc, &plain); err != nil {
				p.metrics.decryptFailed()
				p.logger.Error("error decrypting packet", "addr", addr, "cipher", c.Name(), "error", err)
			} else {
				pkt.Pack = plain
			}
		}
	}

	p.logger.Debug("received packet", "addr", addr, "pack", string(pkt.Pack))
	p.PacketReceived(pkt, addr)
}

// PacketReceived dispatches a decoded packet to the internal handlers, then
// to registered handlers, then to a pending Request.
func (p *Protocol) PacketReceived(pkt *Packet, addr net.Addr) {
	resp, err := Extract(pkt, addr)
	if errors.Is(err, ErrUnknownResponse) {
		p.handleUnknownPacket(pkt, addr)
		return
	}
	if err != nil {
		p.metrics.unknownPacket()
		p.logger.Error("error while handling packet", "addr", addr, "error", err)
		return
	}
	p.metrics.response(resp.Type)

	p.mu.Lock()
	delegate := p.delegate
	entries := append([]handlerEntry(nil), p.handlers[resp.Type]...)
	p.mu.Unlock()

	switch resp.Type {
	case ResponseBindOK:
		if delegate != nil {
			delegate.HandleDeviceBound(resp.Key)
		}
		p.ready.Set()
	case ResponseData, ResponseResult:
		if delegate != nil {
			delegate.HandleStateUpdate(resp.Values)
		}
	}

	for _, h := range entries {
		h.fn(resp)
	}
	p.deliver(resp)
}

func (p *Protocol) handleUnknownPacket(pkt *Packet, addr net.Addr) {
	p.metrics.unknownPacket()

	p.mu.Lock()
	fn := p.unknown
	p.mu.Unlock()
	if fn != nil {
		fn(pkt, addr)
		return
	}
	p.logger.Warn("received unknown packet", "addr", addr, "t", pkt.T, "pack", string(pkt.Pack))
}

// waitErr maps an expired deadline to ErrTimeout.
func waitErr(what string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}
