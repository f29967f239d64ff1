package service

import (
	"incident-service/config"
	"incident-service/database"
	"incident-service/handlers"
	"incident-service/metrics"
	"incident-service/notify"
	"incident-service/rabbitmq"
	"incident-service/uploads"

	"github.com/apex/log"
)

// Service wires the store connection, the notification fan-out and the
// HTTP handlers together.
type Service struct {
	config     *config.Config
	conn       *database.Connection
	db         *database.Database
	dispatcher *notify.Dispatcher
	storage    *uploads.Storage
	publisher  *rabbitmq.Publisher
	handlers   *handlers.Handlers
}

// NewService creates a new incident service. Nothing connects to the store
// until Start is called.
func NewService(cfg *config.Config) (*Service, error) {
	metrics.Register()

	conn := database.NewConnection(cfg)
	db := database.NewDatabase(conn)

	dispatcher := notify.NewDispatcher(notify.BuildChannels(cfg), cfg.SendTimeout)
	log.Infof("Notification channels enabled: %v", dispatcher.Channels())

	storage, err := uploads.NewStorage(cfg.UploadsDir, cfg.UploadsMaxSize)
	if err != nil {
		return nil, err
	}

	s := &Service{
		config:     cfg,
		conn:       conn,
		db:         db,
		dispatcher: dispatcher,
		storage:    storage,
	}

	// Report events are optional, the service runs without a broker.
	var publisher handlers.EventPublisher
	if cfg.AMQPURL != "" {
		p, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			log.WithError(err).Warn("Report events disabled")
		} else {
			s.publisher = p
			publisher = p
		}
	}

	s.handlers = handlers.NewHandlers(db, dispatcher, storage, publisher, !cfg.IsProduction())
	return s, nil
}

// Start launches the store reconnect loop
func (s *Service) Start() error {
	log.Infof("Starting incident service...")
	s.conn.Start()
	return nil
}

// Stop stops the reconnect loop, closes the pool and the event publisher
func (s *Service) Stop() error {
	log.Infof("Stopping incident service...")

	err := s.conn.Stop()
	if err != nil {
		log.WithError(err).Warn("Failed to close store connection")
	}
	if s.publisher != nil {
		if pubErr := s.publisher.Close(); pubErr != nil && err == nil {
			err = pubErr
		}
	}
	return err
}

// GetHandlers returns the HTTP handlers
func (s *Service) GetHandlers() *handlers.Handlers {
	return s.handlers
}

// UploadsDir returns the directory uploaded images are served from
func (s *Service) UploadsDir() string {
	return s.storage.Dir()
}
