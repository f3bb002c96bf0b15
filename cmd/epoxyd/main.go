package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/xdg"

	"github.com/epoxyrpc/epoxy/internal/logger"
	"github.com/epoxyrpc/epoxy/pkg/auth"
	"github.com/epoxyrpc/epoxy/pkg/epoxy"
	"github.com/epoxyrpc/epoxy/pkg/metrics"
	"github.com/epoxyrpc/epoxy/pkg/netconn"
)

const (
	configDirName  = "epoxyd"
	configFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "epoxyd",
		Usage:   "demo client/server for the Epoxy connection core",
		Version: bi.Main.Version,
		Flags:   flags(configFile()),
		Action:  run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// configFile returns the path to epoxyd's configuration file. It also
// creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, configDirName, configFileName)
	if err != nil {
		logger.FatalError("failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

func initLog(devMode bool) *slog.Logger {
	var handler slog.Handler
	if devMode {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	l := slog.New(handler)
	slog.SetDefault(l)
	return l
}

func run(ctx context.Context, cmd *cli.Command) error {
	devMode := cmd.Bool("dev") || cmd.Bool("pretty-log")
	log := initLog(devMode)
	ctx = logger.InContext(ctx, log)

	sink := newMetricsSink(devMode)

	switch cmd.String("role") {
	case "server":
		return runServer(ctx, cmd, log, sink)
	case "client":
		return runClient(ctx, cmd, log, sink)
	default:
		return fmt.Errorf("unreachable: role validator should have rejected %q", cmd.String("role"))
	}
}

func newMetricsSink(devMode bool) epoxy.MetricsSink {
	zlog := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if devMode {
		zlog = zlog.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return metrics.NewCSVSink(configDirName, zlog)
}

func runServer(ctx context.Context, cmd *cli.Command, log *slog.Logger, sink epoxy.MetricsSink) error {
	gate := auth.NewGate([]byte(cmd.String("token-secret")), log)
	if _, err := gate.IssueToken("epoxyd-server", cmd.Duration("token-ttl")); err != nil {
		return fmt.Errorf("failed to issue service credential: %w", err)
	}

	srv, err := netconn.Listen(cmd.String("address"), log)
	if err != nil {
		return err
	}
	defer srv.Close()

	log.Info("listening", slog.String("address", srv.Addr().String()))

	host := &echoHost{}
	return srv.Serve(ctx, func(conn net.Conn) {
		serveConn(ctx, conn, host, gate, sink, log)
	})
}

func serveConn(ctx context.Context, conn net.Conn, host epoxy.ServiceHost, gate *auth.Gate, sink epoxy.MetricsSink, log *slog.Logger) {
	c := epoxy.NewConnection(conn, epoxy.RoleServer, host,
		epoxy.WithListener(gate),
		epoxy.WithMetricsSink(sink),
		epoxy.WithLogger(log))

	if err := c.Start(ctx); err != nil {
		log.Warn("connection rejected or failed", slog.Any("error", err))
		return
	}

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.Stop(stopCtx)
}

func runClient(ctx context.Context, cmd *cli.Command, log *slog.Logger, sink epoxy.MetricsSink) error {
	conn, err := netconn.Dial(ctx, cmd.String("address"))
	if err != nil {
		return err
	}

	c := epoxy.NewConnection(conn, epoxy.RoleClient, &echoHost{},
		epoxy.WithMetricsSink(sink),
		epoxy.WithLogger(log))

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}

	resp, err := c.RequestResponse(ctx, cmd.String("method"), []byte(cmd.String("payload")))
	if err != nil {
		_ = c.Stop(ctx)
		return fmt.Errorf("request failed: %w", err)
	}
	fmt.Printf("response: %s\n", resp)

	return c.Stop(ctx)
}

// echoHost is a trivial [epoxy.ServiceHost] for the demo binary: it
// echoes the payload of an "Echo" request back unchanged, answers any
// other method with an internal server error, and logs fired events.
type echoHost struct{}

func (h *echoHost) DispatchRequest(_ context.Context, method string, payload []byte, _ epoxy.ConnectionMetricsSnapshot) ([]byte, *epoxy.ErrorRecord) {
	if method != "Echo" {
		return nil, epoxy.NewInternalServerError("unknown method: " + method)
	}
	return payload, nil
}

func (h *echoHost) DispatchEvent(ctx context.Context, method string, payload []byte, metrics epoxy.ConnectionMetricsSnapshot) {
	logger.FromContext(ctx).Info("event received",
		slog.String("method", method), slog.Int("bytes", len(payload)), slog.String("connection_id", metrics.ConnectionID))
}
