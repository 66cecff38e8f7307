// Command gojanng runs a JavaScript file with the nng module available via
// require('nng'), until the script has no outstanding work, calls exit, or
// the process is signalled.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/goja-nng/receiver"
	"github.com/joeycumines/goja-nng/socket"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// logRateLimits applies to log calls using Limit, per call site.
var logRateLimits = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func newLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
		stumpy.L.WithCategoryRateLimits(logRateLimits),
	).Logger()
}

// run executes cfg.Script, returning the process exit code.
func run(ctx context.Context, cfg *config, stdout, stderr io.Writer) int {
	logger := newLogger(stderr, cfg.LogLevel)

	src, err := os.ReadFile(cfg.Script)
	if err != nil {
		logger.Err().Err(err).Log("read script failed")
		return 1
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics, err := receiver.NewMetrics(reg)
	if err != nil {
		logger.Err().Err(err).Log("metrics setup failed")
		return 1
	}
	if cfg.MetricsAddr != "" {
		srv, err := serveMetrics(cfg.MetricsAddr, reg, logger)
		if err != nil {
			logger.Err().Err(err).Log("metrics listen failed")
			return 1
		}
		defer func() { _ = srv.Close() }()
	}

	loop, err := eventloop.New(eventloop.WithLogger(logger))
	if err != nil {
		logger.Err().Err(err).Log("event loop setup failed")
		return 1
	}

	table, err := socket.NewTable(
		socket.WithLogger(logger),
		socket.WithPollInterval(cfg.PollInterval),
	)
	if err != nil {
		logger.Err().Err(err).Log("socket table setup failed")
		return 1
	}
	sub, err := receiver.New(loop, table,
		receiver.WithCapacity(cfg.RegistryCapacity),
		receiver.WithBridgeCapacity(cfg.BridgeCapacity),
		receiver.WithErrorBackoff(cfg.ErrorBackoff, cfg.MaxErrorBackoff),
		receiver.WithLogger(logger),
		receiver.WithMetrics(metrics),
	)
	if err != nil {
		logger.Err().Err(err).Log("receiver setup failed")
		return 1
	}
	table.OnClosing(sub.OnSocketClosing)

	h, err := newHost(loop, table, sub, stdout, logger)
	if err != nil {
		logger.Err().Err(err).Log("timer setup failed")
		return 1
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(context.Background()) }()

	if err := loop.Submit(func() { h.run(cfg.Script, string(src)) }); err != nil {
		logger.Err().Err(err).Log("submit script failed")
		return 1
	}

	code := 0
	select {
	case <-h.done:
		code = h.code
	case <-ctx.Done():
		logger.Info().Err(context.Cause(ctx)).Log("stopping")
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = 124
		} else {
			code = 130
		}
		_ = loop.Submit(func() { h.stop(code) })
	}

	// sockets close before the subsystem, so each subscriber sees its close
	if err := table.CloseAll(); err != nil {
		logger.Debug().Err(err).Log("close sockets failed")
	}
	_ = sub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := loop.Shutdown(shutdownCtx); err != nil {
		logger.Warning().Err(err).Log("event loop shutdown failed")
		_ = loop.Close()
	}
	if err := <-loopDone; err != nil && !errors.Is(err, eventloop.ErrLoopTerminated) {
		logger.Debug().Err(err).Log("event loop exited")
	}

	logger.Debug().Int("code", code).Log("exited")
	return code
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *logiface.Logger[logiface.Event]) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Err().Err(err).Log("metrics server failed")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Log("serving metrics")
	return srv, nil
}
