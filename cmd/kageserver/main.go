// Command kageserver runs the bootstrap endpoint and the three per-game
// lobby servers (Bomberman, Outtrigger, Propeller Arena) described in
// spec.md. Flag handling follows the teacher's cmd/proxy/proxy.go shape:
// no cobra/viper anywhere in the retrieval pack, so flags stay stdlib.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kageserver/kage/bootstrap"
	"github.com/kageserver/kage/game/bomberman"
	"github.com/kageserver/kage/game/outtrigger"
	"github.com/kageserver/kage/game/propeller"
	"github.com/kageserver/kage/internal/config"
	"github.com/kageserver/kage/internal/discord"
	"github.com/kageserver/kage/internal/klog"
	"github.com/kageserver/kage/internal/netdump"
	"github.com/kageserver/kage/lobby"
)

func main() {
	configPath := flag.String("config", "kage.cfg", "path to the KEY=VALUE configuration file")
	logLevel := flag.String("log-level", "info", "zerolog level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "emit JSON logs instead of the console writer")
	flag.Parse()

	log := klog.Init(klog.Options{Level: *logLevel, Console: !*logJSON})

	cfg := config.Load(*configPath, log)

	notifier := discord.New(cfg.Discord.WebhookURL, klog.Component(log, "discord"))

	var capturer *netdump.Writer
	if cfg.Netdump.Enabled {
		capturer = netdump.New(cfg.Netdump.Dir, klog.Component(log, "netdump"))
	}

	bmSrv, err := bomberman.New(cfg.Ports.Bomberman, cfg.Lobbies, klog.Component(log, "bomberman"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind bomberman lobby server")
	}
	otSrv, err := outtrigger.New(cfg.Ports.Outtrigger, cfg.Lobbies, klog.Component(log, "outtrigger"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind outtrigger lobby server")
	}
	propSrv, err := propeller.New(cfg.Ports.Propeller, cfg.Lobbies, klog.Component(log, "propeller"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind propeller arena lobby server")
	}

	wireNotifierAndCapturer(bmSrv.Server, notifier, capturer)
	wireNotifierAndCapturer(otSrv.Server, notifier, capturer)
	wireNotifierAndCapturer(propSrv.Server, notifier, capturer)

	bootSrv, err := bootstrap.New(cfg.Ports.Bootstrap, bootstrap.Router{
		Bomberman:  bmSrv.Server,
		Outtrigger: otSrv.Server,
		Propeller:  propSrv.Server,
	}, klog.Component(log, "bootstrap"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind bootstrap endpoint")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bootSrv.Run(gctx) })
	g.Go(func() error { return bmSrv.Run(gctx) })
	g.Go(func() error { return otSrv.Run(gctx) })
	g.Go(func() error { return propSrv.Run(gctx) })

	log.Info().
		Str("bootstrap", cfg.Ports.Bootstrap).
		Str("bomberman", cfg.Ports.Bomberman).
		Str("outtrigger", cfg.Ports.Outtrigger).
		Str("propeller", cfg.Ports.Propeller).
		Msg("kageserver listening")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, stopping reactors")

	bootSrv.Stop()
	bmSrv.Stop()
	otSrv.Stop()
	propSrv.Stop()

	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, "kageserver: ", err)
		os.Exit(1)
	}
}

func wireNotifierAndCapturer(s *lobby.Server, notifier *discord.Notifier, capturer *netdump.Writer) {
	s.Notifier = notifier
	if capturer != nil {
		s.Capturer = capturer
	}
}
