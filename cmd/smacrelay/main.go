package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"

	"github.com/supby/smacrelay/internal/configuration"
	"github.com/supby/smacrelay/internal/console"
	"github.com/supby/smacrelay/internal/logger"
	"github.com/supby/smacrelay/internal/mqtt"
	"github.com/supby/smacrelay/internal/protocol"
	"github.com/supby/smacrelay/internal/registry"
	"github.com/supby/smacrelay/internal/router"
	"github.com/supby/smacrelay/internal/session"
	"github.com/supby/smacrelay/internal/transport"
	"github.com/supby/smacrelay/internal/types"
	"github.com/supby/smacrelay/internal/wsfeed"
)

// sink is one consumer of registry and sample notifications.
type sink interface {
	PublishSample(sample protocol.DeviceSample)
	PublishNodes(nodes []registry.Node)
	PublishNodeLog(nodeID int, text string)
	PublishText(kind string, text string)
}

type mqttSink struct {
	router.MQTTRouter
}

func (s mqttSink) PublishText(kind string, text string) {
	s.PublishGatewayMessage(text, kind)
}

type feedSink struct {
	*wsfeed.Feed
}

func (s feedSink) PublishText(kind string, text string) {
	s.Publish(kind, text)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var configFile = flag.String("c", "./configuration.yaml", "path to config file name")
	flag.Parse()

	configService, err := configuration.Init(*configFile)
	if err != nil {
		logger.GetLogger("[main]", logger.LogLevelError).Error("Configuration initialization error: %v\n", err)
		os.Exit(1)
	}

	cfg := configService.GetConfiguration()
	log := logger.GetLogger("[main]", cfg.LogLevel)

	link := transport.New(transport.SerialOpener{}, transport.Settings{
		MaxLineLength:        cfg.SerialConfiguration.MaxLineLength,
		SendQueueSize:        cfg.SerialConfiguration.SendQueueSize,
		PresencePollInterval: cfg.SerialConfiguration.PresencePollInterval,
		MaxConsecutiveFaults: cfg.SerialConfiguration.MaxConsecutiveFaults,
		WriteTimeout:         cfg.SerialConfiguration.WriteTimeout,
	}, logger.GetLogger("[transport]", cfg.LogLevel))

	sess := session.New(link, console.PromptSelector{Out: os.Stdout}, registry.New(), session.Settings{
		PortName:                  cfg.SerialConfiguration.PortName,
		ResetRegistryOnDisconnect: cfg.SessionConfiguration.ResetRegistryOnDisconnect,
		ReconnectDelay:            cfg.SessionConfiguration.ReconnectDelay,
		StartupDelay:              cfg.SessionConfiguration.StartupDelay,
		LivenessInterval:          cfg.SessionConfiguration.LivenessInterval,
		LivenessTimeout:           cfg.SessionConfiguration.LivenessTimeout,
	}, cfg.LogLevel)
	defer sess.Close()

	reg := sess.Registry()

	sinks := []sink{}

	if cfg.MqttConfiguration.Enabled {
		mqttClient, err := mqtt.NewClient(cfg.MqttConfiguration, cfg.LogLevel)
		if err != nil {
			log.Error("MQTT initialization error: %v\n", err)
			os.Exit(1)
		}
		defer mqttClient.Dispose()

		mqttRouter := router.NewMQTTRouter(mqttClient, cfg.LogLevel)
		setupMQTTSubscriptions(ctx, mqttRouter, sess, reg)
		sinks = append(sinks, mqttSink{mqttRouter})
	}

	var feed *wsfeed.Feed
	if cfg.WebSocketConfiguration.Enabled {
		feed = wsfeed.New(cfg.WebSocketConfiguration.Address, cfg.LogLevel)
		feed.SubscribeOnCommandRequest(func(req types.CommandRequest) error {
			return sess.SendCommand(ctx, req.Command())
		})
		sinks = append(sinks, feedSink{feed})
	}

	setupSubscriptions(sess, reg, sinks)

	if err := sess.Connect(ctx); err != nil {
		if errors.Is(err, transport.ErrNoLinkChosen) {
			log.Info("exiting app...")
			return
		}
		log.Error("Connect error: %v\n", err)
		os.Exit(1)
	}

	if updated, err := configuration.RememberPort(configService, string(sess.Handle())); err != nil {
		log.Warn("Could not save port name: %v", err)
	} else if updated {
		log.Info("Saved port %s to %s", sess.Handle(), *configFile)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return sess.Run(gctx)
	})
	if feed != nil {
		g.Go(func() error {
			return feed.ListenAndServe(gctx)
		})
	}

	if cfg.ConsoleConfiguration.Enabled && console.Interactive() {
		con := console.New(sess, reg, os.Stdout, cfg.LogLevel)
		go func() {
			con.Run(gctx)
			cancel()
		}()
	}

	waitForInterruptSignal(gctx)
	cancel()

	if err := g.Wait(); err != nil {
		log.Error("%v\n", err)
	}

	log.Info("exiting app...")
}

func setupMQTTSubscriptions(ctx context.Context, mqttRouter router.MQTTRouter, sess *session.Session, reg registry.Reader) {
	mqttRouter.SubscribeOnCommandRequest(func(req types.CommandRequest) {
		if err := sess.SendCommand(ctx, req.Command()); err != nil {
			mqttRouter.PublishGatewayMessage(err.Error(), router.MQTT_ERROR)
		}
	})
	mqttRouter.SubscribeOnGetNodes(func() {
		mqttRouter.PublishNodes(reg.Snapshot())
	})
}

func setupSubscriptions(sess *session.Session, reg registry.Reader, sinks []sink) {
	d := sess.Dispatcher()

	d.SubscribeOnDeviceSample(func(sample protocol.DeviceSample) {
		for _, s := range sinks {
			s.PublishSample(sample)
		}
	})
	d.SubscribeOnRegistryChanged(func(nodes []registry.Node) {
		for _, s := range sinks {
			s.PublishNodes(nodes)
		}
	})
	d.SubscribeOnDevicesChanged(func(nodeID int, devices []registry.Device, totalDevices int) {
		nodes := reg.Snapshot()
		for _, s := range sinks {
			s.PublishNodes(nodes)
		}
	})

	nodeLog := func(nodeID int, text string) {
		for _, s := range sinks {
			s.PublishNodeLog(nodeID, text)
		}
	}
	d.SubscribeOnNodeLog(nodeLog)
	sess.SubscribeOnCommandSent(nodeLog)

	d.SubscribeOnRelayerError(func(message string) {
		for _, s := range sinks {
			s.PublishText(wsfeed.TypeError, message)
		}
	})
	d.SubscribeOnNotice(func(message string) {
		for _, s := range sinks {
			s.PublishText(wsfeed.TypeNotice, message)
		}
	})
	sess.SubscribeOnStatus(func(status session.Status) {
		for _, s := range sinks {
			s.PublishText(wsfeed.TypeStatus, string(status))
		}
	})
}

func waitForInterruptSignal(ctx context.Context) {
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, os.Interrupt)
	defer func() {
		signal.Stop(sigchan)
	}()

	select {
	case <-sigchan:
	case <-ctx.Done():
	}
}
