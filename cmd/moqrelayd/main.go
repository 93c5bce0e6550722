package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/moqrelay/certs"
	"github.com/zsiec/moqrelay/moqsession"
	"github.com/zsiec/moqrelay/moqt"
	"github.com/zsiec/moqrelay/transport"
)

var version = "dev"

const alpn = "moq-00"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(90 * 24 * time.Hour)
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	addr := envOr("MOQ_ADDR", ":4433")
	maxIdle := envDuration("MOQ_MAX_IDLE", 30*time.Second)

	slog.Info("moqrelayd starting", "version", version, "addr", addr, "cert_hash", cert.FingerprintBase64())

	relay := moqt.NewRelay(moqt.Config{
		Log:              slog.Default(),
		DefaultTTL:       30 * time.Second,
		DefaultMaxGroups: 4,
	})

	listener, err := quic.ListenAddr(addr, &tls.Config{
		Certificates: []tls.Certificate{cert.TLSCert},
		NextProtos:   []string{alpn},
	}, &quic.Config{
		MaxIdleTimeout:  maxIdle,
		EnableDatagrams: true,
	})
	if err != nil {
		slog.Error("failed to listen", "error", err)
		os.Exit(1)
	}
	defer listener.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return relay.Background(ctx)
	})

	g.Go(func() error {
		return acceptLoop(ctx, listener, relay)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func acceptLoop(ctx context.Context, listener *quic.Listener, relay *moqt.Relay) error {
	connID := 0
	for {
		qc, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}
		connID++
		id := "c" + strconv.Itoa(connID)
		go handleConnection(ctx, id, relay, qc)
	}
}

func handleConnection(ctx context.Context, id string, relay *moqt.Relay, qc quic.Connection) {
	log := slog.Default().With("conn", id, "remote", qc.RemoteAddr().String())
	log.Info("connection accepted")

	tConn := transport.NewConn(qc)

	controlStream, err := tConn.AcceptControlStream(ctx)
	if err != nil {
		log.Warn("failed to accept control stream", "error", err)
		return
	}

	conn := moqt.NewConn(id, relay, moqsession.RoleServer, tConn, controlStream, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return conn.Run(gctx, moqsession.RoleServer) })
	g.Go(func() error { return conn.DrainEgress(gctx) })
	g.Go(func() error { return conn.ServeIncomingData(gctx, tConn) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.Warn("connection ended", "error", err)
	}
	_ = tConn.CloseWithError(0, "bye")
	log.Info("connection closed")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
