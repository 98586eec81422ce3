// Command tsbridged runs the TS bridge service.
// It attaches the configured cards, applies redirects and serves the management API.
package main

import (
	"bytes"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"github.com/usnistgov/tsbridge/core/logging"
	"github.com/usnistgov/tsbridge/core/version"
	"github.com/usnistgov/tsbridge/core/yamlflag"
	"github.com/usnistgov/tsbridge/mgmt"
	"github.com/usnistgov/tsbridge/mgmt/demuxmgmt"
	"github.com/usnistgov/tsbridge/mgmt/devmgmt"
	"github.com/usnistgov/tsbridge/mgmt/logmgmt"
	"github.com/usnistgov/tsbridge/mgmt/metrics"
	"github.com/usnistgov/tsbridge/mgmt/redirmgmt"
	"github.com/usnistgov/tsbridge/mgmt/versionmgmt"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var logger = logging.New("main")

var cfg Config

var app = &cli.App{
	Version: version.V.String(),
	Usage:   "Provide TS bridge service.",
	Flags: []cli.Flag{
		&cli.GenericFlag{
			Name:     "config",
			Usage:    "daemon configuration, inline YAML or @`FILE`",
			Value:    yamlflag.New(&cfg),
			Required: true,
		},
		&cli.StringFlag{
			Name:    "mgmt",
			Usage:   "management API listen `URL`, or 0 to disable",
			EnvVars: []string{"TSBRIDGE_MGMT"},
			Value:   mgmt.DefaultListen,
		},
		&cli.StringFlag{
			Name:    "metrics",
			Usage:   "Prometheus metrics HTTP listen `ADDRESS`, or empty to disable",
			EnvVars: []string{"TSBRIDGE_METRICS"},
			Value:   "127.0.0.1:9420",
		},
	},
	Action: func(c *cli.Context) error {
		svc, e := newService(cfg)
		if e != nil {
			return cli.Exit(e, 1)
		}
		defer func() {
			if e := svc.Close(); e != nil {
				logger.Error("close error", zap.Error(e))
			}
		}()

		if listen := c.String("mgmt"); listen != "0" {
			server := mgmt.NewServer()
			server.Register(devmgmt.DeviceMgmt{Registry: svc.reg})
			server.Register(redirmgmt.RedirectMgmt{Registry: svc.reg})
			server.Register(demuxmgmt.DemuxMgmt{Demuxes: svc.demuxes})
			server.Register(versionmgmt.VersionMgmt{})
			server.Register(logmgmt.LoggingMgmt{})
			if e := server.Listen(listen); e != nil {
				return cli.Exit(e, 1)
			}
			defer server.Close()
		}

		if listen := c.String("metrics"); listen != "" {
			pr := prometheus.NewRegistry()
			pr.MustRegister(
				collectors.NewGoCollector(),
				metrics.NewCollector(svc.reg, svc.demuxes),
			)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(pr, promhttp.HandlerOpts{}))
			hs := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				logger.Info("metrics HTTP server starting", zap.String("listen", listen))
				if e := hs.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
					logger.Error("metrics HTTP server error", zap.Error(e))
				}
			}()
			defer hs.Close()
		}

		go systemdNotify()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
		sig := <-sigs
		logger.Info("shutdown requested by signal", zap.Stringer("signal", sig))
		daemon.SdNotify(false, daemon.SdNotifyStopping)
		return nil
	},
}

func main() {
	var uname unix.Utsname
	unix.Uname(&uname)
	logger.Info("TS bridge service starting",
		zap.Stringer("version", version.V),
		zap.Int("uid", os.Getuid()),
		zap.ByteString("linux", bytes.TrimRight(uname.Release[:], string([]byte{0}))),
	)

	app.Run(os.Args)
}

func systemdNotify() {
	daemon.SdNotify(false, daemon.SdNotifyReady)

	d, e := daemon.SdWatchdogEnabled(false)
	if d == 0 || e != nil {
		logger.Debug("systemd watchdog not configured", zap.Error(e))
		return
	}

	d /= 2
	logger.Debug("systemd watchdog enabled", zap.Duration("duration", d))
	for range time.Tick(d) {
		daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	}
}
