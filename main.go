package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/gofiber/fiber/v2"
	"github.com/mynaparrot/v2tic-server/helpers"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/factory"
	"github.com/mynaparrot/v2tic-server/pkg/routers"
	"github.com/mynaparrot/v2tic-server/version"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const serverStopTimeout = 10 * time.Second

func main() {
	cli.VersionPrinter = func(c *cli.Command) {
		fmt.Printf("%s\n", c.Version)
	}

	app := &cli.Command{
		Name:        "v2tic-server",
		Usage:       "Voicemail to text ingestion core",
		Description: "without a command both the HTTPS and the SMTP ingress are started",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Configuration file",
				DefaultText: "config.yaml",
				Value:       "config.yaml",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "https",
				Usage: "start the HTTPS ingress only",
				Action: func(ctx context.Context, c *cli.Command) error {
					return startServer(ctx, c, true, false)
				},
			},
			{
				Name:  "smtp",
				Usage: "start the SMTP ingress only",
				Action: func(ctx context.Context, c *cli.Command) error {
					return startServer(ctx, c, false, true)
				},
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return startServer(ctx, c, true, true)
		},
		Version: version.Version,
	}

	err := app.Run(context.Background(), os.Args)
	if err != nil {
		logrus.Fatalln(err)
	}
}

func startServer(ctx context.Context, c *cli.Command, withHttps, withSmtp bool) error {
	appCnf, err := helpers.ReadConfig(c.String("config"))
	if err != nil {
		logrus.WithError(err).Fatalln("failed to read configuration")
	}
	logger := appCnf.Logger

	err = helpers.PrepareServer(appCnf)
	if err != nil {
		logger.Fatalln(err)
	}
	defer helpers.HandleCloseConnections(appCnf)

	appFactory, err := factory.NewAppFactory(appCnf)
	if err != nil {
		logger.Fatalln(err)
	}
	appFactory.Boot()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if withHttps {
		rt := routers.New(appFactory.AppConfig, appFactory.Controllers)
		g.Go(func() error {
			return listenHttps(rt, appCnf)
		})
		g.Go(func() error {
			<-gctx.Done()
			return rt.ShutdownWithTimeout(serverStopTimeout)
		})
	}

	if withSmtp {
		srv := appFactory.SmtpServer
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, smtp.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	logger.Infoln("ingress stopped, waiting for in-flight requests")

	sctx, cancel := context.WithTimeout(context.Background(), appCnf.ShutdownBound())
	defer cancel()
	if serr := appFactory.Shutdown(sctx); serr != nil {
		logger.WithError(serr).Warnln("in-flight requests did not finish in time")
	}

	if err != nil {
		logger.Fatalln(err)
	}
	return nil
}

func listenHttps(rt *fiber.App, appCnf *config.AppConfig) error {
	h := appCnf.Https
	addr := net.JoinHostPort(h.Host, fmt.Sprint(h.Port))
	appCnf.Logger.WithFields(logrus.Fields{
		"addr": addr,
		"tls":  h.CertFile != "",
	}).Infoln("https server listening")

	if h.CertFile != "" {
		return rt.ListenTLS(addr, h.CertFile, h.KeyFile)
	}
	return rt.Listen(addr)
}
