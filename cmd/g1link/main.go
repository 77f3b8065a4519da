package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/chaz8081/g1link/internal/ble"
	"github.com/chaz8081/g1link/internal/ble/protocol"
	"github.com/chaz8081/g1link/internal/config"
	"github.com/chaz8081/g1link/internal/glasses"
	"github.com/chaz8081/g1link/internal/notify"
)

var (
	green  = color.New(color.FgHiGreen).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
)

var cfg *config.Config

func main() {
	app := cli.NewApp()
	app.Name = "g1link"
	app.Usage = "drive a pair of Even Realities G1 glasses over BLE"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/g1link/config.yaml)",
		},
	}
	app.Before = setup
	app.Commands = []cli.Command{
		{
			Name:   "scan",
			Usage:  "List nearby G1 lenses",
			Action: scanCommand,
		},
		{
			Name:      "text",
			Usage:     "Show text on both lenses",
			ArgsUsage: "<text>",
			Action:    textCommand,
		},
		{
			Name:      "rsvp",
			Usage:     "Show text word by word",
			ArgsUsage: "<text>",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "wpm", Usage: "words per minute (default from config)"},
				cli.IntFlag{Name: "group", Usage: "words shown at once (default from config)"},
			},
			Action: rsvpCommand,
		},
		{
			Name:  "notify",
			Usage: "Push a notification",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "title, t", Usage: "notification title"},
				cli.StringFlag{Name: "subtitle", Usage: "notification subtitle"},
				cli.StringFlag{Name: "message, m", Usage: "notification body"},
				cli.StringFlag{Name: "app", Usage: "app identifier (default from config)"},
			},
			Action: notifyCommand,
		},
		{
			Name:  "dashboard",
			Usage: "Show or hide the dashboard",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "hide", Usage: "hide instead of show"},
				cli.IntFlag{Name: "position, p", Usage: "vertical position 0-8"},
			},
			Action: dashboardCommand,
		},
		{
			Name:      "brightness",
			Usage:     "Set display brightness",
			ArgsUsage: "<0-41>",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "auto", Usage: "enable automatic brightness"},
			},
			Action: brightnessCommand,
		},
		{
			Name:      "silent",
			Usage:     "Turn silent mode on or off",
			ArgsUsage: "<on|off>",
			Action:    silentCommand,
		},
		{
			Name:   "clear",
			Usage:  "Clear both displays",
			Action: clearCommand,
		},
		{
			Name:  "record",
			Usage: "Record the glasses microphone to a WAV file",
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration, d", Value: 5 * time.Second, Usage: "how long to record"},
				cli.StringFlag{Name: "out, o", Usage: "output file (default: <audio.output_dir>/<timestamp>.wav)"},
			},
			Action: recordCommand,
		},
		{
			Name:   "init-config",
			Usage:  "Write the default config file",
			Action: initConfigCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, red("g1link ▶ "+err.Error()))
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	var err error
	cfg, err = loadConfig(c.GlobalString("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}
	return config.Default(), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// withPair connects both lenses, runs fn and disconnects.
func withPair(fn func(ctx context.Context, p *glasses.Pair) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	p := glasses.NewPair(ble.NewBluetoothAdapter(), cfg.PairOptions())
	p.OnStatusChanged(func(address string, s ble.State) {
		switch s {
		case ble.Connected:
			fmt.Println(green("● " + address + " connected"))
		case ble.Unreachable:
			fmt.Println(red("● " + address + " unreachable"))
		case ble.Disconnected:
			fmt.Println(yellow("● " + address + " disconnected"))
		}
	})

	fmt.Println(cyan("g1link ▶ connecting..."))
	if err := p.ScanAndConnect(ctx); err != nil {
		p.DisconnectAll()
		return err
	}
	defer p.DisconnectAll()
	return fn(ctx, p)
}

func printResults(what string, r glasses.Results) error {
	sides := make([]string, 0, len(r))
	for side := range r {
		sides = append(sides, string(side))
	}
	sort.Strings(sides)
	for _, side := range sides {
		if err := r[ble.Side(side)]; err != nil {
			fmt.Printf("  %s %s: %v\n", red("✗"), ble.Side(side).Label(), err)
		} else {
			fmt.Printf("  %s %s\n", green("✓"), ble.Side(side).Label())
		}
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func argText(c *cli.Context) (string, error) {
	text := strings.TrimSpace(strings.Join(c.Args(), " "))
	if text == "" {
		return "", errors.New("no text given")
	}
	return text, nil
}

func scanCommand(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	adapter := ble.NewBluetoothAdapter()
	if err := adapter.Enable(); err != nil {
		return err
	}
	scanCtx, stop := context.WithTimeout(ctx, cfg.Scan.Timeout)
	defer stop()

	fmt.Println(cyan(fmt.Sprintf("g1link ▶ scanning for %s...", cfg.Scan.Timeout)))
	devices, err := adapter.Scan(scanCtx)
	if err != nil {
		return err
	}
	found := 0
	for _, d := range devices {
		side, ok := glasses.ClassifyDevice(d.Name)
		if !ok {
			continue
		}
		found++
		fmt.Printf("  %-6s %-28s %s  rssi %d\n", side.Label(), d.Name, d.Address, d.RSSI)
	}
	if found == 0 {
		return glasses.ErrNoDevices
	}
	return nil
}

func textCommand(c *cli.Context) error {
	text, err := argText(c)
	if err != nil {
		return err
	}
	return withPair(func(ctx context.Context, p *glasses.Pair) error {
		return printResults("text", p.SendText(ctx, text))
	})
}

func rsvpCommand(c *cli.Context) error {
	text, err := argText(c)
	if err != nil {
		return err
	}
	rc := cfg.RSVP
	if c.IsSet("wpm") {
		rc.WordsPerMinute = c.Int("wpm")
	}
	if c.IsSet("group") {
		rc.WordsPerGroup = c.Int("group")
	}
	if err := rc.Validate(); err != nil {
		return err
	}
	return withPair(func(ctx context.Context, p *glasses.Pair) error {
		return p.SendRSVP(ctx, text, rc)
	})
}

func notifyCommand(c *cli.Context) error {
	n := notify.Notification{
		AppIdentifier: c.String("app"),
		Title:         c.String("title"),
		Subtitle:      c.String("subtitle"),
		Message:       c.String("message"),
	}
	if n.AppIdentifier == "" {
		n.AppIdentifier = cfg.Notification.AppIdentifier
	}
	if n.Message == "" && n.Title == "" {
		return errors.New("notify needs --title or --message")
	}
	return withPair(func(ctx context.Context, p *glasses.Pair) error {
		return printResults("notify", p.SendNotification(ctx, n))
	})
}

func dashboardCommand(c *cli.Context) error {
	show := !c.Bool("hide")
	pos := c.Int("position")
	if _, err := protocol.EncodeDashboard(show, pos); err != nil {
		return err
	}
	return withPair(func(ctx context.Context, p *glasses.Pair) error {
		r, err := p.SetDashboard(ctx, show, pos)
		if err != nil {
			return err
		}
		return printResults("dashboard", r)
	})
}

func brightnessCommand(c *cli.Context) error {
	var level int
	if _, err := fmt.Sscanf(c.Args().First(), "%d", &level); err != nil {
		return fmt.Errorf("brightness level: %w", err)
	}
	if _, err := protocol.EncodeBrightness(level, c.Bool("auto")); err != nil {
		return err
	}
	return withPair(func(ctx context.Context, p *glasses.Pair) error {
		r, err := p.SetBrightness(ctx, level, c.Bool("auto"))
		if err != nil {
			return err
		}
		return printResults("brightness", r)
	})
}

func silentCommand(c *cli.Context) error {
	var on bool
	switch c.Args().First() {
	case "on":
		on = true
	case "off":
	default:
		return errors.New(`silent takes "on" or "off"`)
	}
	return withPair(func(ctx context.Context, p *glasses.Pair) error {
		return printResults("silent", p.SetSilentMode(ctx, on))
	})
}

func clearCommand(c *cli.Context) error {
	return withPair(func(ctx context.Context, p *glasses.Pair) error {
		return printResults("clear", p.ClearScreen(ctx))
	})
}

func recordCommand(c *cli.Context) error {
	out := c.String("out")
	if out == "" {
		out = filepath.Join(cfg.Audio.OutputDir, time.Now().Format("20060102-150405")+".wav")
	}
	return withPair(func(ctx context.Context, p *glasses.Pair) error {
		buf := p.MicAudio()
		if buf == nil {
			return errors.New("record: right lens not connected")
		}
		if err := p.SetMicrophone(ctx, true); err != nil {
			return err
		}
		fmt.Println(cyan(fmt.Sprintf("g1link ▶ recording for %s...", c.Duration("duration"))))
		select {
		case <-ctx.Done():
		case <-time.After(c.Duration("duration")):
		}
		if err := p.SetMicrophone(context.WithoutCancel(ctx), false); err != nil {
			slog.Warn("[G1] could not stop microphone", "error", err)
		}

		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return fmt.Errorf("record: %w", err)
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
		defer f.Close()
		n, gaps := buf.Len(), buf.Gaps()
		if err := buf.WriteWAV(f); err != nil {
			return fmt.Errorf("record: %w", err)
		}
		fmt.Println(green(fmt.Sprintf("g1link ▶ wrote %s (%d bytes, %d gaps)", out, n, gaps)))
		return nil
	})
}

func initConfigCommand(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println(yellow("g1link ▶ config already exists at " + config.DefaultConfigPath()))
		return nil
	}
	fmt.Println(green("g1link ▶ wrote " + path))
	return nil
}
