package gree

import (
	"context"
	"fmt"
)

// Bind establishes the session key.
//
// With a key, the key is installed into c and no network traffic happens;
// c is required. Without a key the key is negotiated with the device: when c
// is nil CipherV1 is tried first and CipherV2 second, otherwise only c is
// tried. Each attempt waits at most the bind timeout for the
// acknowledgement.
//
// Binding an already bound device restarts the negotiation.
func (d *Device) Bind(ctx context.Context, key string, c Cipher) error {
	if key != "" {
		if c == nil {
			return fmt.Errorf("%w: cipher must be provided when key is provided", ErrConfiguration)
		}
		c.SetKey(key)
		d.proto.SetCipher(c)
		d.logger.Debug("installed device key", "device", d.info.String(), "cipher", c.Name())
		return nil
	}

	if d.info == nil {
		return ErrNotBound
	}
	if err := d.open(ctx); err != nil {
		return err
	}

	candidates := []Cipher{c}
	if c == nil {
		candidates = []Cipher{NewCipherV1(), NewCipherV2()}
	}

	d.logger.Info("starting device binding", "device", d.info.String())
	previous := d.proto.Cipher()

	var err error
	for _, candidate := range candidates {
		d.logger.Info("attempting to bind to device", "device", d.info.String(), "cipher", candidate.Name())
		err = d.bindWith(ctx, candidate)
		if err == nil || !isTimeout(err) || ctx.Err() != nil {
			break
		}
		d.logger.Debug("bind attempt timed out", "cipher", candidate.Name())
	}

	if err != nil {
		// A failed negotiation must not leave the trial cipher behind.
		d.proto.SetCipher(previous)
		if isTimeout(err) {
			return deviceTimeout(err)
		}
		return err
	}

	bound := d.proto.Cipher()
	if bound == nil {
		return ErrNotBound
	}
	d.logger.Info("bound to device", "device", d.info.String(), "cipher", bound.Name())
	return nil
}

func (d *Device) bindWith(ctx context.Context, c Cipher) error {
	d.proto.resetReady()
	if err := d.proto.Send(ctx, NewBindMessage(d.info), nil, c); err != nil {
		d.metrics.bindAttempt(c.Name(), "error")
		return err
	}

	bctx, cancel := context.WithTimeout(ctx, d.bindTimeout)
	defer cancel()
	if err := d.proto.waitReady(bctx); err != nil {
		d.metrics.bindAttempt(c.Name(), "timeout")
		return err
	}
	d.metrics.bindAttempt(c.Name(), "ok")
	return nil
}

// HandleDeviceBound installs the negotiated key into the active cipher.
func (d *Device) HandleDeviceBound(key string) {
	if c := d.proto.Cipher(); c != nil {
		c.SetKey(key)
	}
	d.logger.Debug("device bound", "device", d.info.String())
}

// Bound reports whether a session cipher is installed.
func (d *Device) Bound() bool {
	return d.proto.Cipher() != nil
}

func (d *Device) ensureBound(ctx context.Context) error {
	if d.Bound() {
		return nil
	}
	return d.Bind(ctx, "", nil)
}
