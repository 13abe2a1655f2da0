package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/danmuck/instaxemu/internal/bridge"
	"github.com/danmuck/instaxemu/internal/config"
	"github.com/danmuck/instaxemu/internal/emulator"
	"github.com/danmuck/instaxemu/internal/events"
	"github.com/danmuck/instaxemu/internal/logging"
	"github.com/danmuck/instaxemu/internal/observability"
	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/printer/state"
	"github.com/danmuck/instaxemu/internal/server"
	"github.com/danmuck/instaxemu/internal/storage"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "cmd/instaxemu/config.toml", "emulator config path")
	flag.Parse()

	observability.InitLogger("instaxemu")
	cfg, err := config.LoadEmulatorConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load emulator config")
	}
	logging.ApplyConfigLevel(cfg.LogLevel)
	log.Info().Str("path", *configPath).Msg("loaded emulator config")

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("emulator stopped")
	}
}

func run(cfg config.EmulatorConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profile, snap, err := restore(cfg)
	if err != nil {
		return err
	}
	store := state.NewStore(snap)

	var persister *state.Persister
	if cfg.StateFile != "" {
		persister = state.NewPersister(cfg.StateFile, profile.ID.String())
		if err := persister.Attach(store); err != nil {
			return err
		}
	}

	sink := events.NewSink(publisher(cfg), cfg.MQTT.Sink())
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn().Err(err).Msg("event sink close failed")
		}
	}()

	files := storage.NewFileStore(cfg.Storage.Root)
	port := bridge.NewPort()
	session := emulator.NewSession(emulator.NewDispatcher(store, profile, files), port, sink)
	defer session.Close()
	aux := emulator.NewAux(profile, store, port)

	panel := server.New(server.Config{
		ID:          "instaxemu",
		Addr:        cfg.HTTP.Addr,
		CorsOrigins: cfg.HTTP.CorsOrigins,
		Token:       cfg.HTTP.Token,
	}, server.Printer{
		Store:     store,
		Profile:   profile,
		Files:     files,
		Session:   session,
		Persister: persister,
		Events:    sink,
	})

	log.Info().
		Str("model", profile.ID.String()).
		Str("bridge", cfg.Bridge.Mode).
		Str("storage", files.Root()).
		Msg("emulator started")

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- panel.Run(ctx)
	}()

	serve := func(ctx context.Context, link *bridge.Link) error {
		return port.Serve(ctx, link, session, aux)
	}
	switch cfg.Bridge.Mode {
	case config.BridgeSerial:
		serial := cfg.Bridge.Serial()
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- bridge.Reconnect(ctx, func(context.Context) (*bridge.Link, error) {
				return bridge.OpenSerial(serial)
			}, cfg.Bridge.Backoff(), serve)
		}()
	case config.BridgeTCP:
		ln, err := bridge.Listen(cfg.Bridge.Listen)
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
		log.Info().Str("addr", ln.Addr().String()).Msg("bridge listening")
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- ln.Serve(ctx, serve)
		}()
	}

	var firstErr error
	select {
	case <-ctx.Done():
	case firstErr = <-errCh:
		stop()
	}
	wg.Wait()
	if firstErr != nil && !errors.Is(firstErr, context.Canceled) {
		return firstErr
	}
	log.Info().Msg("emulator shut down")
	return nil
}

// restore picks the profile and starting state. A saved state file wins over
// the configured model so a model switch from the panel survives restarts.
func restore(cfg config.EmulatorConfig) (model.Profile, state.Snapshot, error) {
	profile, err := cfg.Profile()
	if err != nil {
		return model.Profile{}, state.Snapshot{}, err
	}
	snap := state.Defaults()
	if cfg.StateFile == "" {
		return profile, snap, nil
	}
	saved, ok, err := state.LoadFile(cfg.StateFile)
	if err != nil {
		return model.Profile{}, state.Snapshot{}, err
	}
	if !ok {
		return profile, snap, nil
	}
	if saved.Model != "" {
		p, err := model.Parse(saved.Model)
		if err != nil {
			log.Warn().Err(err).Str("model", saved.Model).Msg("ignoring saved model")
		} else {
			profile = p
		}
	}
	log.Info().Str("path", cfg.StateFile).Str("model", profile.ID.String()).Msg("restored printer state")
	return profile, saved.State, nil
}

func publisher(cfg config.EmulatorConfig) events.Publisher {
	if !cfg.MQTT.Enabled {
		return events.NewLogPublisher(log.Logger)
	}
	pub, err := events.NewMQTTPublisher(cfg.MQTT.Publisher())
	if err != nil {
		log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt unavailable, logging job events instead")
		return events.NewLogPublisher(log.Logger)
	}
	log.Info().Str("broker", cfg.MQTT.Broker).Str("topic", pub.Topic()).Msg("publishing job events")
	return pub
}
