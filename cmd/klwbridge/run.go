package main

import (
	"context"
	"fmt"
	"time"

	"github.com/yarin-zhang/ha-cleveroom-home/internal/bridge"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/config"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/influxdb"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/logging"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/mqtt"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/klw"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/store"
	"github.com/yarin-zhang/ha-cleveroom-home/migrations"
)

// healthCheckInterval is how often run logs a failing dependency.
const healthCheckInterval = time.Minute

// run wires the gateway session, the record store, MQTT, InfluxDB and the
// bridge, then blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting klwbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	recordStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	kcfg, err := gatewayConfig(cfg, recordStore, log.Component("gateway"))
	if err != nil {
		return err
	}
	kcfg.EventQueueSize = 256
	gateway, err := klw.New(kcfg)
	if err != nil {
		return fmt.Errorf("creating gateway client: %w", err)
	}
	defer func() {
		log.Info("stopping gateway session")
		if stopErr := gateway.Stop(); stopErr != nil {
			log.Error("error stopping gateway session", "error", stopErr)
		}
	}()

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if mqttClient != nil {
		opts := bridge.Options{
			GatewayID:      gatewayID(cfg),
			Topics:         mqttClient.Topics(),
			QoS:            mqttClient.QoS(),
			Version:        version,
			HealthInterval: config.Seconds(cfg.Bridge.HealthInterval),
			MQTT:           mqttClient,
			Gateway:        gateway,
			Logger:         log.Component("bridge"),
		}
		if influxClient != nil {
			opts.Recorder = influxClient
		}
		b, err := bridge.New(opts)
		if err != nil {
			return fmt.Errorf("creating bridge: %w", err)
		}
		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("starting bridge: %w", err)
		}
		defer b.Stop()

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected, republishing device states", "devices", b.PublishAll())
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	}

	if err := gateway.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	log.Info("gateway session started", "address", gateway.Address(), "client_id", gateway.ClientID())

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return nil
		case <-ticker.C:
			if err := healthCheck(ctx, gateway, mqttClient, influxClient); err != nil {
				log.Warn("health check failed", "error", err)
			}
		}
	}
}

// healthCheck returns the first failing dependency. mqttClient and
// influxClient may be nil when disabled.
func healthCheck(ctx context.Context, gateway *klw.Client, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := gateway.HealthCheck(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// gatewayID is the {gateway} MQTT topic segment.
func gatewayID(cfg *config.Config) string {
	if cfg.Gateway.ID != "" {
		return cfg.Gateway.ID
	}
	return cfg.Gateway.Host
}

// recordNamespace is the nid every record of this gateway carries.
func recordNamespace(cfg *config.Config) string {
	if cfg.Gateway.ClientID != "" {
		return cfg.Gateway.ClientID
	}
	return klw.DefaultClientID(cfg.Gateway.Host)
}

// gatewayConfig maps the configuration onto the session options.
func gatewayConfig(cfg *config.Config, recordStore klw.Store, logger klw.Logger) (klw.Config, error) {
	g := cfg.Gateway

	var login klw.LoginStrategy
	switch g.Login {
	case config.LoginPlain, "":
		login = klw.PlainLogin{Password: g.Password}
	case config.LoginChallenge:
		dir := klw.CipherDecrypt
		if g.Cipher == string(klw.CipherEncrypt) {
			dir = klw.CipherEncrypt
		}
		login = klw.ChallengeLogin{Code: g.Code, Direction: dir}
	default:
		return klw.Config{}, fmt.Errorf("unknown gateway login %q", g.Login)
	}

	return klw.Config{
		Host:                 g.Host,
		Port:                 g.Port,
		ClientID:             recordNamespace(cfg),
		Login:                login,
		SystemLevel:          g.SystemLevel,
		ConnectTimeout:       config.Seconds(g.ConnectTimeout),
		ReconnectInterval:    config.Seconds(g.ReconnectInterval),
		MaxReconnectInterval: config.Seconds(g.MaxReconnectInterval),
		HeartbeatInterval:    config.Seconds(g.HeartbeatInterval),
		DisableHeartbeat:     g.DisableHeartbeat,
		LoginTimeout:         time.Duration(g.LoginTimeoutMs) * time.Millisecond,
		ShowStopScene:        g.ShowStopScene,
		Language:             g.Language,
		Store:                recordStore,
		Logger:               logger,
	}, nil
}

// openStore returns the record store selected by store.driver and a
// function releasing it. The none driver returns a nil store.
func openStore(ctx context.Context, cfg *config.Config) (klw.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreNone:
		return nil, func() {}, nil

	case config.StoreSQLite:
		db, err := openDatabase(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		return store.NewSQLiteStore(db, recordNamespace(cfg)), func() { db.Close() }, nil

	default:
		return store.NewFileStore(cfg.StorePath()), func() {}, nil
	}
}
