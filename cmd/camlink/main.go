package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skobkin/camlink/internal/app"
	"github.com/skobkin/camlink/internal/config"
	"github.com/skobkin/camlink/internal/connectors"
	"github.com/skobkin/camlink/internal/link"
)

const maxHexPreviewLen = 64

type cliOptions struct {
	configPath  string
	medium      string
	host        string
	port        int
	address     string
	adapter     string
	scanTimeout time.Duration
	send        string
	listenFor   time.Duration
	capture     bool
	logLevel    string
	version     bool
}

func main() {
	if err := run(); err != nil {
		slog.Error("run camlink", "error", err)
		os.Exit(1)
	}
}

func run() error {
	opts := cliOptions{}
	fs := flag.NewFlagSet(app.Name, flag.ExitOnError)
	registerFlags(fs, &opts)
	_ = fs.Parse(os.Args[1:])

	if opts.version {
		fmt.Printf("%s %s\n", app.Name, app.BuildVersion())
		return nil
	}

	payload, err := parsePayload(opts.send)
	if err != nil {
		return fmt.Errorf("parse -send: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	if path := strings.TrimSpace(opts.configPath); path != "" {
		paths.ConfigFile = path
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyOverrides(&cfg, setFlags(fs), opts); err != nil {
		return err
	}

	rt, err := app.Initialize(ctx, paths, cfg)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()
	logger := rt.LogManager.Logger("cli")

	sub := rt.Bus.Subscribe(connectors.TopicConnStatus, connectors.TopicRawFrameIn, connectors.TopicRawFrameOut)
	defer rt.Bus.Unsubscribe(sub)
	rt.Start()

	var listenTimeout <-chan time.Time
	if opts.listenFor > 0 {
		logger.Info("listen mode", "duration", opts.listenFor)
		timer := time.NewTimer(opts.listenFor)
		defer timer.Stop()
		listenTimeout = timer.C
	} else {
		logger.Info("listening until interrupt")
	}

	var (
		sendResult <-chan link.SendResult
		lastStatus connectors.ConnStatus
	)
	pending := len(payload) > 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-listenTimeout:
			return nil
		case <-rt.Link.Done():
			if lastStatus.Err != "" {
				return fmt.Errorf("link stopped: %s", lastStatus.Err)
			}
			return nil
		case res := <-sendResult:
			sendResult = nil
			if res.Err != nil {
				logger.Error("send payload", "error", res.Err)
				continue
			}
			logger.Info("payload sent", "len", res.Len)
		case raw, ok := <-sub:
			if !ok {
				return errors.New("bus closed")
			}
			switch msg := raw.(type) {
			case connectors.ConnStatus:
				lastStatus = msg
				logger.Info("conn", "state", msg.State, "transport", msg.TransportName, "target", msg.Target, "error", msg.Err)
				if pending && msg.State == connectors.ConnectionStateConnected {
					pending = false
					sendResult = rt.Link.Send(payload)
				}
			case connectors.RawFrame:
				if msg.Direction == connectors.FrameDirectionIn {
					printFrame(os.Stdout, msg)
					continue
				}
				logger.Debug("raw-out", "len", msg.Len, "hex", previewHex(msg.Hex))
			}
		}
	}
}

func registerFlags(fs *flag.FlagSet, opts *cliOptions) {
	fs.StringVar(&opts.configPath, "config", "", "config file path (default: user config dir)")
	fs.StringVar(&opts.medium, "medium", "", "transport medium: wifi or ble")
	fs.StringVar(&opts.host, "host", "", "camera host for wifi")
	fs.IntVar(&opts.port, "port", 0, "camera port for wifi")
	fs.StringVar(&opts.address, "address", "", "camera BLE address; empty scans for one")
	fs.StringVar(&opts.adapter, "adapter", "", "bluetooth adapter id, e.g. hci1")
	fs.DurationVar(&opts.scanTimeout, "scan-timeout", 0, "BLE scan bound, 0 scans until found")
	fs.StringVar(&opts.send, "send", "", "hex payload to send once connected")
	fs.DurationVar(&opts.listenFor, "listen-for", 0, "listen duration, e.g. 30s")
	fs.BoolVar(&opts.capture, "capture", false, "store raw frames in the capture database")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.BoolVar(&opts.version, "version", false, "print version and exit")
}

func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	return set
}

// applyOverrides copies explicitly set flags over the loaded config.
func applyOverrides(cfg *config.AppConfig, set map[string]bool, opts cliOptions) error {
	if set["medium"] {
		medium, ok := config.ParseMedium(opts.medium)
		if !ok {
			return fmt.Errorf("unknown medium %q", opts.medium)
		}
		cfg.Connection.Medium = medium
	}
	if set["host"] {
		cfg.Connection.Host = strings.TrimSpace(opts.host)
	}
	if set["port"] {
		cfg.Connection.Port = opts.port
	}
	if set["address"] {
		cfg.Connection.BluetoothAddress = strings.TrimSpace(opts.address)
	}
	if set["adapter"] {
		cfg.Connection.BluetoothAdapter = strings.TrimSpace(opts.adapter)
	}
	if set["scan-timeout"] {
		if opts.scanTimeout < 0 {
			return fmt.Errorf("scan timeout must not be negative: %s", opts.scanTimeout)
		}
		cfg.Connection.ScanTimeoutSeconds = int(opts.scanTimeout.Round(time.Second) / time.Second)
		if opts.scanTimeout > 0 && cfg.Connection.ScanTimeoutSeconds == 0 {
			cfg.Connection.ScanTimeoutSeconds = 1
		}
	}
	if set["capture"] {
		cfg.Capture.Enabled = opts.capture
	}
	if set["log-level"] {
		cfg.Logging.Level = strings.TrimSpace(opts.logLevel)
	}

	return nil
}

// parsePayload accepts hex with optional 0x prefix and space, colon or dash
// separators.
func parsePayload(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	raw = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(raw)

	data, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("payload is empty")
	}

	return data, nil
}

func printFrame(w io.Writer, frame connectors.RawFrame) {
	_, _ = fmt.Fprintf(w, "%s %s %d %s\n", frame.At.Format(time.RFC3339Nano), frame.Transport, frame.Len, frame.Hex)
}

func previewHex(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= maxHexPreviewLen {
		return value
	}
	return value[:maxHexPreviewLen] + "..."
}
