package helpers

import (
	"github.com/mynaparrot/v2tic-server/pkg/config"
)

func HandleCloseConnections(appCnf *config.AppConfig) {
	if appCnf == nil {
		return
	}

	if appCnf.NatsConn != nil {
		// flush pending lifecycle events
		_ = appCnf.NatsConn.Drain()
	}

	if appCnf.Logger != nil {
		appCnf.Logger.Infoln("connections closed")
	}
}
