package natsservice

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	EventDeposited = "deposited"
	EventEjected   = "ejected"
	EventFailed    = "failed"
)

// LifecycleEvent is published for every request state change worth
// observing from outside the process. Transcriptions are never included.
type LifecycleEvent struct {
	Id               string         `json:"id"`
	Event            string         `json:"event"`
	Scrid            string         `json:"scrid"`
	DeliveryType     string         `json:"delivery_type"`
	Status           string         `json:"status"`
	ConversionStatus string         `json:"conversion_status,omitempty"`
	Notes            []request.Note `json:"notes,omitempty"`
	DepositTime      time.Time      `json:"deposit_time"`
	Time             time.Time      `json:"time"`
}

// NatsService publishes lifecycle events. Without a connection it does nothing.
type NatsService struct {
	nc     *nats.Conn
	prefix string
	logger *logrus.Entry
}

func New(app *config.AppConfig, logger *logrus.Logger) *NatsService {
	s := &NatsService{
		prefix: app.NatsInfo.SubjectPrefix,
		logger: logger.WithField("service", "nats"),
	}
	if app.NatsInfo.Enabled {
		s.nc = app.NatsConn
	}
	return s
}

func (s *NatsService) Enabled() bool {
	return s.nc != nil
}

func (s *NatsService) Subject(event string) string {
	return s.prefix + "." + event
}

// NewLifecycleEvent snapshots the observable state of req.
func NewLifecycleEvent(event string, req *request.Request) *LifecycleEvent {
	e := &LifecycleEvent{
		Id:           uuid.NewString(),
		Event:        event,
		Scrid:        req.Scrid,
		DeliveryType: req.DeliveryType,
		Status:       string(req.Status()),
		Notes:        req.Notes(),
		DepositTime:  req.DepositTime,
		Time:         time.Now().UTC(),
	}
	if req.RecognitionResult != nil {
		e.ConversionStatus = req.RecognitionResult.ConversionStatus
	}
	return e
}

// PublishEvent never fails the caller; publication problems are only logged.
func (s *NatsService) PublishEvent(event string, req *request.Request) {
	if s.nc == nil {
		return
	}

	payload, err := json.Marshal(NewLifecycleEvent(event, req))
	if err != nil {
		s.logger.WithError(err).Errorln("marshalling lifecycle event")
		return
	}
	if err = s.nc.Publish(s.Subject(event), payload); err != nil {
		s.logger.WithError(err).WithField("scrid", req.Scrid).Warnln("publishing lifecycle event")
	}
}
