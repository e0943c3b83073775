package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/zberg/go-gree/internal/config"
	"github.com/zberg/go-gree/pkg/gree"
)

var (
	targetIP   string
	targetMAC  string
	targetPort int
	deviceKey  string
	cipherName string
	variant    string
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&targetIP, "ip", "", "IP address of the unit")
	rootCmd.PersistentFlags().StringVar(&targetMAC, "mac", "", "MAC address of the unit")
	rootCmd.PersistentFlags().IntVar(&targetPort, "port", gree.DefaultPort, "UDP port of the unit")
	rootCmd.PersistentFlags().StringVar(&deviceKey, "key", "", "Device key, skips binding")
	rootCmd.PersistentFlags().StringVar(&cipherName, "cipher", "", "Cipher version (v1, v2)")
	rootCmd.PersistentFlags().StringVar(&variant, "variant", config.VariantClimate, "Device variant (climate, heatpump)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Device file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(bindCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(monitorCmd)
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover units on the network",
	Run: func(cmd *cobra.Command, args []string) {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		broadcast, _ := cmd.Flags().GetStringSlice("broadcast")
		save, _ := cmd.Flags().GetBool("save")

		opts := []gree.Option{gree.WithLogger(logger())}
		if len(broadcast) > 0 {
			opts = append(opts, gree.WithBroadcastAddress(broadcast...))
		}
		d, err := gree.NewDiscovery(opts...)
		if err != nil {
			fail("Error creating scanner: %v", err)
		}

		ctx, cancel := signalContext()
		defer cancel()
		ctx, cancelScan := context.WithTimeout(ctx, timeout)
		defer cancelScan()

		fmt.Println("Discovering devices...")
		results, err := d.Scan(ctx)
		if err != nil {
			fmt.Printf("Error discovering: %v\n", err)
		}
		if len(results) == 0 {
			fmt.Println("No devices found.")
			return
		}

		for _, res := range results {
			fmt.Printf("Found %q at %s:%d (mac: %s, model: %s, version: %s)\n",
				res.Name, res.IP, res.Port, res.MAC, res.Model, res.Version)
		}

		if save {
			cfg := loadConfig()
			for _, res := range results {
				entry := config.Device{Name: res.Name, IP: res.IP, MAC: res.MAC}
				if res.Port != gree.DefaultPort {
					entry.Port = res.Port
				}
				if existing, ok := cfg.Find(res.MAC); ok {
					entry.Key, entry.Cipher = existing.Key, existing.Cipher
				}
				cfg.Upsert(entry)
			}
			saveConfig(cfg)
		}
	},
}

var bindCmd = &cobra.Command{
	Use:   "bind [device]",
	Short: "Negotiate the device key",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		save, _ := cmd.Flags().GetBool("save")
		entry := resolveDevice(args)
		entry.Key = ""

		dev := newDevice(entry)
		defer dev.Close()

		ctx, cancel := signalContext()
		defer cancel()

		var c gree.Cipher
		if entry.Cipher != "" {
			c = mustCipher(entry.Cipher, "")
		}
		if err := dev.Bind(ctx, "", c); err != nil {
			fail("Error binding to %s: %v", entry.IP, err)
		}

		bound := dev.Protocol().Cipher()
		fmt.Printf("Bound to %s (cipher: %s, key: %s)\n", entry.MAC, bound.Name(), bound.Key())

		if save {
			cfg := loadConfig()
			entry.Key, entry.Cipher = bound.Key(), bound.Name()
			cfg.Upsert(entry)
			saveConfig(cfg)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [device]",
	Short: "Show all properties of a unit",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dev := connect(args)
		defer dev.Close()

		ctx, cancel := signalContext()
		defer cancel()

		if err := dev.UpdateState(ctx); err != nil {
			fail("Error getting status: %v", err)
		}

		fmt.Printf("%s\n", dev.Info())
		if v := dev.Version(); v != "" {
			fmt.Printf("Firmware: %s (%s)\n", v, dev.HID())
		}
		names := dev.PropertyNames()
		slices.Sort(names)
		for _, name := range names {
			p, _ := dev.LookupProperty(name)
			fmt.Printf("%-28s %-20s %v\n", name, p.Key(), dev.Get(p))
		}
	},
}

var setCmd = &cobra.Command{
	Use:   "set [device] name=value...",
	Short: "Change properties of a unit",
	Long: `Change properties of a unit. Names are semantic names such as power or
temp_set, or wire keys such as Pow. Values are integers or on/off.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var target []string
		if !strings.Contains(args[0], "=") {
			target, args = args[:1], args[1:]
		}
		if len(args) == 0 {
			fail("Nothing to set.")
		}

		dev := connect(target)
		defer dev.Close()

		for _, arg := range args {
			name, raw, ok := strings.Cut(arg, "=")
			if !ok {
				fail("Invalid assignment %q: expected name=value", arg)
			}
			p, err := dev.LookupProperty(name)
			if err != nil {
				fail("%v", err)
			}
			v, err := parseValue(raw)
			if err != nil {
				fail("Invalid value for %s: %v", name, err)
			}
			dev.Set(p, v)
		}

		ctx, cancel := signalContext()
		defer cancel()
		if err := dev.PushStateUpdate(ctx); err != nil {
			fail("Error setting properties: %v", err)
		}
		fmt.Println("Command sent successfully.")
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt [file]",
	Short: "Decrypt captured envelopes, one JSON document per line",
	Long: `Decrypt captured envelopes read from a file or standard input. Without
--key the generic keys are tried, which decrypts scan and bind traffic.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var in io.Reader = os.Stdin
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				fail("Error opening %s: %v", args[0], err)
			}
			defer f.Close()
			in = f
		}

		ciphers := decryptCiphers()
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, gree.MaxDatagramSize), gree.MaxDatagramSize)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			plain, name, err := decryptEnvelope([]byte(line), ciphers)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Printf("[%s] %s\n", name, plain)
		}
		if err := scanner.Err(); err != nil {
			fail("Error reading input: %v", err)
		}
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [device]",
	Short: "Poll a unit and export protocol metrics over HTTP",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		listen, _ := cmd.Flags().GetString("listen")
		interval, _ := cmd.Flags().GetDuration("interval")

		reg := prometheus.NewRegistry()
		metrics := gree.NewMetrics(reg)
		dev := connect(args, gree.WithMetrics(metrics))
		defer dev.Close()

		ctx, cancel := signalContext()
		defer cancel()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Printf("Error serving metrics: %v\n", err)
				cancel()
			}
		}()
		fmt.Printf("Serving metrics on %s/metrics\n", listen)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := dev.UpdateState(ctx); err != nil && ctx.Err() == nil {
				fmt.Printf("Error polling: %v\n", err)
			}
			select {
			case <-ctx.Done():
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				srv.Shutdown(shutdownCtx)
				return
			case <-ticker.C:
			}
		}
	},
}

func init() {
	discoverCmd.Flags().Duration("timeout", 3*time.Second, "How long to wait for answers")
	discoverCmd.Flags().StringSlice("broadcast", nil, "Broadcast addresses to scan (default: all interfaces)")
	discoverCmd.Flags().Bool("save", false, "Add found units to the device file")

	bindCmd.Flags().Bool("save", false, "Store the negotiated key in the device file")

	monitorCmd.Flags().String("listen", ":9101", "Address of the metrics endpoint")
	monitorCmd.Flags().Duration("interval", 30*time.Second, "Polling interval")
}

func logger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func fail(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fail("Error loading %s: %v", configPath, err)
	}
	return cfg
}

func saveConfig(cfg *config.Config) {
	if err := config.Save(configPath, cfg); err != nil {
		fail("Error saving %s: %v", configPath, err)
	}
	fmt.Printf("Saved to %s\n", configPath)
}

// resolveDevice merges the device file entry named by args with the flags.
// Flags win.
func resolveDevice(args []string) config.Device {
	var entry config.Device
	if len(args) == 1 {
		cfg := loadConfig()
		found, ok := cfg.Find(args[0])
		if !ok {
			fail("Unknown device %q. Run discover --save or use --ip and --mac.", args[0])
		}
		entry = *found
	}

	if targetIP != "" {
		entry.IP = targetIP
	}
	if targetMAC != "" {
		entry.MAC = targetMAC
	}
	if rootCmd.PersistentFlags().Changed("port") || entry.Port == 0 {
		entry.Port = targetPort
	}
	if deviceKey != "" {
		entry.Key = deviceKey
	}
	if cipherName != "" {
		entry.Cipher = cipherName
	}
	if rootCmd.PersistentFlags().Changed("variant") || entry.Variant == "" {
		entry.Variant = variant
	}

	if entry.IP == "" || entry.MAC == "" {
		fail("IP and MAC address required. Use --ip and --mac or run discover --save first.")
	}
	if err := entry.Validate(); err != nil {
		fail("Invalid device: %v", err)
	}
	return entry
}

func newDevice(entry config.Device, extra ...gree.Option) *gree.Device {
	cfg := loadConfig()
	opts := append([]gree.Option{
		gree.WithLogger(logger()),
		gree.WithBindTimeout(cfg.BindTimeout),
		gree.WithRequestTimeout(cfg.RequestTimeout),
	}, extra...)

	info := gree.NewDeviceInfo(entry.IP, entry.Port, entry.MAC)
	info.Name = entry.Name

	var (
		dev *gree.Device
		err error
	)
	switch entry.Variant {
	case config.VariantHeatPump:
		var h *gree.HeatPump
		h, err = gree.NewHeatPump(info, opts...)
		if h != nil {
			dev = h.Device
		}
	default:
		var c *gree.Climate
		c, err = gree.NewClimate(info, opts...)
		if c != nil {
			dev = c.Device
		}
	}
	if err != nil {
		fail("Error creating device: %v", err)
	}
	return dev
}

// connect returns a device with the stored key installed. Without a key the
// first request binds.
func connect(args []string, extra ...gree.Option) *gree.Device {
	entry := resolveDevice(args)
	dev := newDevice(entry, extra...)
	if entry.Key != "" {
		if err := dev.Bind(context.Background(), entry.Key, mustCipher(entry.Cipher, entry.Key)); err != nil {
			fail("Error installing key: %v", err)
		}
	}
	return dev
}

func mustCipher(name, key string) gree.Cipher {
	c, err := gree.CipherByName(name, key)
	if err != nil {
		fail("%v", err)
	}
	return c
}

func parseValue(raw string) (any, error) {
	switch strings.ToLower(raw) {
	case "on", "true":
		return true, nil
	case "off", "false":
		return false, nil
	}
	if m, err := gree.ParseMode(raw); err == nil {
		return int(m), nil
	}
	return strconv.Atoi(raw)
}

func decryptCiphers() []gree.Cipher {
	if cipherName != "" {
		return []gree.Cipher{mustCipher(cipherName, deviceKey)}
	}
	if deviceKey != "" {
		return []gree.Cipher{gree.NewCipherV1WithKey(deviceKey), gree.NewCipherV2WithKey(deviceKey)}
	}
	return []gree.Cipher{gree.NewCipherV1(), gree.NewCipherV2()}
}

func decryptEnvelope(line []byte, ciphers []gree.Cipher) (string, string, error) {
	pkt, err := gree.Decode(line)
	if err != nil {
		return "", "", err
	}
	enc, ok := pkt.EncryptedPack()
	if !ok {
		return string(line), "plain", nil
	}
	var errs []error
	for _, c := range ciphers {
		var plain map[string]any
		if err := c.Decrypt(enc, &plain); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			continue
		}
		out, err := json.Marshal(plain)
		if err != nil {
			return "", "", err
		}
		return string(out), c.Name(), nil
	}
	return "", "", errors.Join(errs...)
}
