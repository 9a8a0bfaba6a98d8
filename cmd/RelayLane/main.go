// Package main is the entry point of RelayLane service.
// It initializes the Kratos application with gRPC (health) and HTTP servers.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"RelayLane/internal/biz"
	"RelayLane/internal/conf"
	"RelayLane/internal/server"
	"RelayLane/pkg/crypto"
	zapLogger "RelayLane/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/robfig/cron/v3"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "relaylane"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string
	// flagseal seals an api key read from stdin and exits.
	flagseal bool

	id, _ = os.Hostname()
)

// drainTimeout bounds how long shutdown waits for running analyses.
const drainTimeout = 30 * time.Second

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
	flag.BoolVar(&flagseal, "seal", false, "read an api key from stdin, print its sealed form (needs "+crypto.KeyEnv+") and exit")
}

// sealStdin prints the sealed form of the first stdin line.
func sealStdin() error {
	s, err := crypto.SealerFromEnv()
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("%s is not set", crypto.KeyEnv)
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read api key: %w", err)
	}
	sealed, err := s.Seal(strings.TrimSpace(line))
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}

// newApp assembles the kratos app. The breaker notifier is taken so wire
// constructs it; it subscribes itself to the dispatcher.
func newApp(logger log.Logger, gs *grpc.Server, hs *http.Server, o *biz.Orchestrator,
	reporter *server.HealthReporter, _ *biz.BreakerEventNotifier, c *conf.Resilience) *kratos.App {
	helper := log.NewHelper(logger)
	var maintenance *cron.Cron

	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			gs,
			hs,
		),
		kratos.BeforeStart(func(context.Context) error {
			var err error
			maintenance, err = StartMaintenanceCron(o, reporter, c, logger)
			return err
		}),
		kratos.BeforeStop(func(context.Context) error {
			reporter.Shutdown()
			if maintenance != nil {
				<-maintenance.Stop().Done()
			}
			return nil
		}),
		kratos.AfterStop(func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, drainTimeout)
			defer cancel()
			if err := o.Wait(ctx); err != nil {
				helper.Warnw("msg", "analyses still running at shutdown", "processing", o.Processing())
			}
			return nil
		}),
	)
}

func main() {
	flag.Parse()

	if flagseal {
		if err := sealStdin(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Load configuration using Viper with environment variable and CLI flag support
	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Use fallback logger before Zap is initialized
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize Zap logger from configuration
	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	// Create Kratos adapter for Zap logger
	logger := zapLogger.NewKratosAdapter(zapLog)

	// Add context fields to logger
	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)

	providers := make([]string, 0, len(bc.Resilience.Providers))
	for _, p := range bc.Resilience.Providers {
		providers = append(providers, p.Name)
	}
	zapLogger.NewLogHelper(logger).Startup("RelayLane service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"log.env", bc.Log.Env,
		"log.output_file", bc.Log.OutputFile,
		"providers", providers,
		"fallback_enabled", bc.Resilience.Dispatcher.FallbackEnabled,
		"stream_mode", bc.Resilience.Dispatcher.StreamMode,
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Resilience, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
