// Package gree provides a client for Gree and compatible air conditioners,
// dehumidifiers and heat pumps on the local network.
//
// # Basic Usage
//
//	ctx := context.Background()
//	ac, err := gree.NewClimate(gree.NewDeviceInfo("192.168.1.40", 0, "f4911e7aca59"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ac.Close()
//
//	if err := ac.Bind(ctx, "", nil); err != nil {
//	    log.Fatal(err)
//	}
//	if err := ac.UpdateState(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	ac.SetPower(true)
//	if err := ac.SetTargetTemperature(22); err != nil {
//	    log.Fatal(err)
//	}
//	if err := ac.PushStateUpdate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Set only changes the local copy of a property and marks it dirty.
// PushStateUpdate sends all dirty properties in a single command.
//
// # Discovery
//
//	d, _ := gree.NewDiscovery()
//	devices, err := d.Scan(ctx)
//
// # Configuration
//
// Devices and scanners are configured using functional options:
//
//	ac, err := gree.NewClimate(info,
//	    gree.WithBindTimeout(2*time.Second),
//	    gree.WithRequestTimeout(5*time.Second),
//	    gree.WithLogger(slog.Default()),
//	    gree.WithMetrics(gree.NewMetrics(prometheus.DefaultRegisterer)),
//	)
//
// # Protocol
//
// Units listen on UDP port 7000. Every request is a JSON envelope whose pack
// field is encrypted with AES. Older firmware uses AES-ECB (CipherV1), newer
// firmware AES-GCM (CipherV2). Binding exchanges a generic key for a session
// key; when no cipher is given both are tried in that order. The protocol
// has no authentication beyond the shared keys, so keep units on an
// isolated network.
package gree
