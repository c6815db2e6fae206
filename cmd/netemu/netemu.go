package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"kgp/emulator"
	"kgp/kgpconfig"
	protocol "kgp/pkg"
)

func parseHost(s string) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(err, "host %q", s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(err, "host %q", s)
	}
	return protocol.ResolvePeer(host, uint16(port))
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	loss := flag.Float64("loss", -1, "drop probability, overrides the config file")
	delay := flag.Duration("delay", -1, "delay added to every datagram, overrides the config file")
	flag.Parse()

	cfg := kgpconfig.Default()
	if *configPath != "" {
		var err error
		cfg, err = kgpconfig.ParseConfig(*configPath)
		if err != nil {
			fmt.Println("error parsing config file:", err)
			os.Exit(1)
		}
	}
	if *loss >= 0 {
		cfg.Emulator.LossRate = *loss
	}
	if *delay >= 0 {
		cfg.Emulator.DelayMs = delay.Milliseconds()
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if len(cfg.Emulator.Hosts) != 2 {
		fmt.Println("Usage: ./netemu --config <file> with exactly two [emulator] hosts")
		os.Exit(1)
	}

	log, err := cfg.BuildLogger()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	log = log.Named("netemu")
	defer log.Sync()

	ecfg := emulator.Config{
		LossRate: cfg.Emulator.LossRate,
		Delay:    time.Duration(cfg.Emulator.DelayMs) * time.Millisecond,
		Seed:     cfg.Emulator.Seed,
	}
	if ecfg.Seed == 0 {
		ecfg.Seed = time.Now().UnixNano()
	}
	for i, h := range cfg.Emulator.Hosts {
		if ecfg.Hosts[i], err = parseHost(h); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	}

	conn, err := protocol.Listen(cfg.Emulator.Port, 0)
	if err != nil {
		log.Error("could not bind", zap.Error(err))
		os.Exit(1)
	}
	fwd, err := emulator.New(ecfg, conn, log)
	if err != nil {
		log.Error("could not start emulator", zap.Error(err))
		os.Exit(1)
	}

	log.Info("forwarding",
		zap.Stringer("addr", conn.LocalAddr()),
		zap.Float64("loss_rate", ecfg.LossRate),
		zap.Duration("delay", ecfg.Delay))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := fwd.Run(ctx); err != nil {
		log.Error("emulator stopped", zap.Error(err))
	}
	stats := fwd.Stats()
	log.Info("emulator stopped",
		zap.Uint64("received", stats.Received),
		zap.Uint64("dropped", stats.Dropped),
		zap.Uint64("rejected", stats.Rejected),
		zap.Uint64("forwarded", stats.Forwarded))
}
