package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/instaxemu/internal/bridge"
	"github.com/danmuck/instaxemu/internal/driver"
	"github.com/danmuck/instaxemu/internal/observability"
	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/rs/zerolog/log"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: instaxctl [flags] info | print <image.jpg>\n")
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "cmd/instaxctl/config.toml", "instaxctl config path")
	addr := flag.String("addr", "", "override bridge address (tcp host:port or serial device)")
	transport := flag.String("transport", "", "override transport: tcp|serial")
	modelName := flag.String("model", "", "override model: mini|square|wide|auto")
	flag.Usage = usage
	flag.Parse()

	observability.InitLogger("instaxctl")

	cfg, err := loadCtlConfig(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("path", *configPath).Msg("no config file, using defaults")
		cfg, err = defaultCtlConfig(), nil
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load instaxctl config")
	}
	if *addr != "" {
		cfg.Address = *addr
	}
	if *transport != "" {
		cfg.Transport = strings.ToLower(*transport)
	}
	if *modelName != "" {
		cfg.Model = strings.ToLower(*modelName)
	}
	if err := validateCtlConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid instaxctl config")
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, args); err != nil {
		log.Error().Err(err).Msg("instaxctl failed")
		os.Exit(1)
	}
}

func open(ctx context.Context, cfg ctlConfig) (*bridge.Link, error) {
	if cfg.Transport == transportSerial {
		sc := bridge.DefaultSerialConfig(cfg.Address)
		sc.Baud = cfg.Baud
		return bridge.OpenSerial(sc)
	}
	return bridge.Dial(ctx, cfg.Address)
}

func run(ctx context.Context, cfg ctlConfig, args []string) error {
	link, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	client := bridge.NewClient(link)
	defer client.Close()

	sess := driver.NewSession(client, cfg.Driver)
	go func() {
		if err := client.Run(ctx, sess); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("bridge read loop ended")
		}
	}()
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	switch args[0] {
	case "info":
		info, err := sess.QueryPrinterInfo(ctx)
		if err != nil {
			return err
		}
		logInfo(info)
		return nil
	case "print":
		if len(args) < 2 {
			return fmt.Errorf("print needs an image path")
		}
		image, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		profile, err := resolveProfile(ctx, sess, cfg.Model)
		if err != nil {
			return err
		}
		return sess.Print(ctx, image, profile, logProgress)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func resolveProfile(ctx context.Context, sess *driver.Session, name string) (model.Profile, error) {
	if name != modelAuto {
		return model.Parse(name)
	}
	info, err := sess.QueryPrinterInfo(ctx)
	if err != nil {
		return model.Profile{}, fmt.Errorf("detect model: %w", err)
	}
	logInfo(info)
	if !info.ModelKnown {
		return model.Profile{}, fmt.Errorf("printer reports unknown size %dx%d", info.Width, info.Height)
	}
	return model.Lookup(info.Model)
}

func logInfo(info driver.PrinterInfo) {
	ev := log.Info().
		Uint16("width", info.Width).
		Uint16("height", info.Height).
		Uint8("battery_state", info.BatteryState).
		Uint8("battery_pct", info.BatteryPercent).
		Uint8("photos", info.PhotosRemaining).
		Bool("charging", info.Charging).
		Uint32("lifetime", info.LifetimePrints)
	if info.ModelKnown {
		ev = ev.Str("model", info.Model.String())
	}
	ev.Msg("printer info")
}

func logProgress(p driver.Progress) {
	ev := log.Info().Str("status", p.Status.String()).Int("percent", p.Percent).Int("sent", p.BytesSent).Int("total", p.TotalBytes)
	if p.Error != "" {
		ev = log.Error().Str("status", p.Status.String()).Str("error", p.Error)
	}
	ev.Msg("print progress")
}
