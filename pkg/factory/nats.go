package factory

import (
	"time"

	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NewNatsConnection connects to the lifecycle event bus when it is enabled.
// The connection keeps reconnecting on its own; events published while it is
// down are dropped.
func NewNatsConnection(appCnf *config.AppConfig) error {
	info := appCnf.NatsInfo
	if !info.Enabled {
		return nil
	}

	nc, err := nats.Connect(info.Url,
		nats.Name("v2tic-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				appCnf.Logger.WithError(err).Warnln("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			appCnf.Logger.WithField("address", nc.ConnectedAddr()).Infoln("reconnected to NATS")
		}),
	)
	if err != nil {
		return err
	}
	appCnf.NatsConn = nc

	appCnf.Logger.WithFields(logrus.Fields{
		"version": nc.ConnectedServerVersion(),
		"address": nc.ConnectedAddr(),
	}).Info("successfully connected to NATS server")

	return nil
}
