// Command md5cached is the CLI entry point: it parses flags, builds a
// server.Server, wires OS signals into the server's lifecycle bitfield,
// and runs until SIGTERM/SIGINT. Grounded directly on
// _examples/HackStrix-steel-infra-assessment/orchestrator/main.go's
// shape (flag.Parse -> construct components -> wire a signal goroutine
// -> block), with pflag replacing the standard flag package and logrus
// replacing log.Printf, per the wider retrieval pack's conventions.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alromeros/meteoserver/internal/server"
	"github.com/alromeros/meteoserver/internal/signalstate"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	flags := flag.NewFlagSet("md5cached", flag.ContinueOnError)
	port := flags.IntP("port", "p", 0, "TCP port to listen on (required)")
	cacheSize := flags.IntP("cache-size", "C", 0, "number of digests to memoize (required)")
	threads := flags.IntP("threads", "t", server.DefaultThreads, "worker pool size; clamped to (0,1000), defaults to 8 if out of range")
	help := flags.BoolP("help", "h", false, "show usage")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *help {
		fmt.Fprintln(os.Stderr, "Usage: md5cached -p <port> -C <cache_size> [-t <threads>]")
		flags.PrintDefaults()
		return 0
	}
	if !flags.Changed("port") || *port <= 0 {
		fmt.Fprintln(os.Stderr, "Usage: md5cached -p <port> -C <cache_size> [-t <threads>]")
		fmt.Fprintln(os.Stderr, "-p/--port is required and must be a positive integer")
		return 2
	}
	if !flags.Changed("cache-size") || *cacheSize <= 0 {
		fmt.Fprintln(os.Stderr, "Usage: md5cached -p <port> -C <cache_size> [-t <threads>]")
		fmt.Fprintln(os.Stderr, "-C/--cache-size is required and must be a positive integer")
		return 2
	}

	settings := server.Settings{
		Port:        *port,
		CacheSize:   *cacheSize,
		ThreadCount: server.NormalizeThreadCount(*threads),
	}

	srv, err := server.New(settings, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize server")
		return 1
	}

	installSignalRelay(srv.Signals(), log)

	if err := srv.Run(); err != nil {
		log.WithError(err).Error("server exited with error")
		return 1
	}
	return 0
}

// installSignalRelay plays the role of the original's async-signal-safe
// handler: a dedicated goroutine that does nothing but translate an
// incoming OS signal into atomic bitfield flips (signalstate.State),
// exactly the restricted surface a true signal handler is limited to.
// SIGUSR1 requests a flush; SIGTERM/SIGINT request termination.
func installSignalRelay(state *signalstate.State, log *logrus.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		for sig := range ch {
			switch sig {
			case syscall.SIGUSR1:
				state.Set(signalstate.FlushRequested)
			case syscall.SIGTERM, syscall.SIGINT:
				log.WithField("signal", sig.String()).Info("shutdown requested")
				state.Set(signalstate.Terminating)
				state.Clear(signalstate.Enabled)
				return
			}
		}
	}()
}
