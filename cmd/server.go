// Copyright 2022 The brane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/brane/apis"
	"github.com/alwitt/brane/common"
	"github.com/alwitt/brane/core"
	"github.com/alwitt/brane/datastore"
	"github.com/alwitt/brane/realtime"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// notificationBus the broadcast channel transport
type notificationBus struct {
	source    realtime.ChannelSource
	publisher realtime.ChannelPublisher
	close     func()
}

// defineNotificationBus build the channel source and publisher for the configured backend
func defineNotificationBus(
	cfg common.SystemConfig, redisClient *redis.Client, logTags log.Fields,
) (notificationBus, error) {
	switch cfg.Notifications.Backend {
	case "redis":
		return notificationBus{
			source:    realtime.NewRedisChannelSource(redisClient),
			publisher: realtime.NewRedisPublisher(redisClient),
			close:     func() {},
		}, nil
	case "nats":
		natsClient, err := core.GetNATSClient(core.NATSConnectParamsFromConfig(cfg.NATS))
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define NATS client")
			return notificationBus{}, err
		}
		return notificationBus{
			source:    realtime.NewNATSChannelSource(natsClient.Conn()),
			publisher: realtime.NewNATSPublisher(natsClient.Conn()),
			close: func() {
				ctxt, cancel := context.WithTimeout(context.Background(), time.Second*5)
				defer cancel()
				natsClient.Close(ctxt)
			},
		}, nil
	default:
		return notificationBus{}, fmt.Errorf(
			"unsupported notification backend %s", cfg.Notifications.Backend,
		)
	}
}

// backendCore connections shared by the server and the seed command
type backendCore struct {
	redisClient *redis.Client
	bus         notificationBus
	store       *datastore.RedisStore
}

func (c backendCore) close(logTags log.Fields) {
	c.bus.close()
	if err := c.redisClient.Close(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Redis client close failed")
	}
}

// defineBackendCore connect to Redis and the notification bus, and define the store
func defineBackendCore(
	ctxt context.Context, cfg common.SystemConfig, logTags log.Fields,
) (backendCore, error) {
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid config")
		return backendCore{}, err
	}

	redisClient, err := core.GetRedisClient(ctxt, cfg.Redis)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to connect to Redis")
		return backendCore{}, err
	}

	bus, err := defineNotificationBus(cfg, redisClient, logTags)
	if err != nil {
		_ = redisClient.Close()
		return backendCore{}, err
	}

	store, err := datastore.NewRedisStore(redisClient, datastore.RedisStoreParams{
		Store:     cfg.Store,
		Stream:    cfg.Realtime.StreamConsumer.Stream,
		Publisher: bus.publisher,
	})
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define document store")
		bus.close()
		_ = redisClient.Close()
		return backendCore{}, err
	}

	if err := store.EnsureIndex(ctxt); err != nil {
		log.WithError(err).WithFields(logTags).Warn("Search index not available")
	}

	return backendCore{redisClient: redisClient, bus: bus, store: store}, nil
}

// RunSeed write the demonstration documents and exit
func RunSeed(cfg common.SystemConfig, instance string, runTimeContext context.Context) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "seed",
		"instance":  instance,
	}
	backend, err := defineBackendCore(runTimeContext, cfg, logTags)
	if err != nil {
		return err
	}
	defer backend.close(logTags)

	if err := backend.store.SeedSampleData(runTimeContext); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to write sample data")
		return err
	}
	log.WithFields(logTags).Info("Sample data written")
	return nil
}

// RunBackendServer run the backend server until runTimeContext is cancelled
func RunBackendServer(
	cfg common.SystemConfig, instance string, runTimeContext context.Context,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "backend",
		"instance":  instance,
	}

	backend, err := defineBackendCore(runTimeContext, cfg, logTags)
	if err != nil {
		return err
	}
	defer backend.close(logTags)

	if err := backend.store.SeedSampleData(runTimeContext); err != nil {
		log.WithError(err).WithFields(logTags).Warn("Unable to write sample data")
	}

	wg := sync.WaitGroup{}
	defer wg.Wait()
	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	// -------------------------------------------------------------------
	// Background tasks

	tasks, err := goutils.GetNewTaskDemuxProcessorInstance(
		localCtxt,
		"background",
		64,
		cfg.Store.BackgroundWorkers,
		log.Fields{"module": "cmd", "component": "background-tasks", "instance": instance},
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define task processor")
		return err
	}

	registry := realtime.GetConnectionRegistry()
	gateway := realtime.NewEventGateway(
		registry, cfg.Realtime.WebSocket, cfg.APIServer.AllowedOrigins,
	)

	httpHandler, err := apis.GetBackendHandler(apis.BackendHandlerParams{
		BaseContext:   localCtxt,
		Store:         backend.store,
		Registry:      registry,
		Gateway:       gateway,
		Tasks:         tasks,
		HTTPConfig:    cfg.APIServer,
		Notifications: cfg.Notifications,
		AlertDelay:    time.Millisecond * time.Duration(cfg.Store.InsightsAlertDelay),
	})
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define HTTP handler")
		return err
	}

	if err := tasks.StartEventLoop(&wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start task processor")
		return err
	}
	defer func() {
		if err := tasks.StopEventLoop(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Task processor stop failed")
		}
	}()

	// -------------------------------------------------------------------
	// Real-time fan-out

	consumer, err := realtime.NewStreamConsumer(
		realtime.NewRedisEventLog(backend.redisClient), registry, cfg.Realtime.StreamConsumer,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define stream consumer")
		return err
	}
	subscriber, err := realtime.NewChannelSubscriber(
		backend.bus.source, registry, cfg.Notifications.Channels,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define channel subscriber")
		return err
	}

	supervisor := realtime.NewSupervisor(
		localCtxt, instance, time.Millisecond*time.Duration(cfg.Realtime.RestartDelay),
	)
	supervisor.Go("stream-consumer", consumer.Run)
	supervisor.Go("channel-subscriber", subscriber.Run)
	defer supervisor.Stop()

	statsTimer, err := goutils.GetIntervalTimerInstance(
		localCtxt,
		&wg,
		log.Fields{"module": "cmd", "component": "connection-stats", "instance": instance},
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define stats timer")
		return err
	}
	if err := statsTimer.Start(
		time.Second*time.Duration(cfg.Realtime.StatsInterval),
		func() error {
			connections := registry.ConnectionCount()
			log.WithFields(logTags).Infof(
				"Live sessions: %d connections, %d users", connections, registry.UserCount(),
			)
			ctxt, cancel := context.WithTimeout(localCtxt, time.Second*5)
			defer cancel()
			return backend.store.RecordConnectionCount(ctxt, connections)
		},
		false,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start stats timer")
		return err
	}
	defer func() {
		_ = statsTimer.Stop()
	}()

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	httpHandler.RegisterRoutes(router)

	withCORS := handlers.CORS(
		handlers.AllowedOrigins(cfg.APIServer.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{
			"Content-Type", "Authorization", cfg.APIServer.Logging.RequestIDHeader,
		}),
		handlers.ExposedHeaders([]string{cfg.APIServer.Logging.RequestIDHeader}),
		handlers.AllowCredentials(),
	)(router)

	serverListen := fmt.Sprintf(
		"%s:%d", cfg.APIServer.Server.ListenOn, cfg.APIServer.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(cfg.APIServer.Server.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(cfg.APIServer.Server.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(cfg.APIServer.Server.IdleTimeout),
		Handler:      h2c.NewHandler(withCORS, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
