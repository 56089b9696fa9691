package mqtt

import (
	"fmt"
	"log"
	"time"

	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/supby/smacrelay/internal/configuration"
	"github.com/supby/smacrelay/internal/logger"
)

func NewClient(config configuration.MqttConfiguration, logLevel int) (MqttClient, error) {
	retClient := defaultMqttClient{
		configuration: config,
		logger:        logger.GetLogger("[MQTT Client]", logLevel),
	}

	mqttlib.ERROR = log.New(retClient.logger.GetWriter(), "[MQTT Client]", 0)
	if logLevel >= logger.LogLevelDebug {
		mqttlib.DEBUG = log.New(retClient.logger.GetWriter(), "[MQTT Client]", 0)
	}

	opts := mqttlib.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", config.Address, config.Port))
	opts.SetClientID(fmt.Sprintf("%s-%s", config.RootTopic, uuid.NewString()[:8]))
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.AutoReconnect = true
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetWill(statusTopic(config.RootTopic), "Offline", 0, true)
	opts.OnConnect = func(client mqttlib.Client) {
		retClient.logger.Info("Connected")
	}
	opts.OnConnectionLost = func(client mqttlib.Client, err error) {
		retClient.logger.Warn("Connect lost: %v", err)
	}

	innerClient := mqttlib.NewClient(opts)

	if token := innerClient.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect: %w", token.Error())
	}

	if token := innerClient.Subscribe(fmt.Sprintf("%s/#", config.RootTopic), 0, retClient.onMessageReceived); token.Wait() && token.Error() != nil {
		innerClient.Disconnect(0)
		return nil, fmt.Errorf("mqtt: subscribe: %w", token.Error())
	}

	retClient.logger.Info("Connected to MQTT on '%v:%v'", config.Address, config.Port)
	innerClient.Publish(statusTopic(config.RootTopic), 0, true, "Online")

	retClient.innerClient = innerClient

	return &retClient, nil
}

func statusTopic(rootTopic string) string {
	return fmt.Sprintf("%v/gateway/status", rootTopic)
}

type MqttClient interface {
	Dispose()
	Publish(subTopic string, data []byte)
	Subscribe(callback func(topic string, message []byte))
	UnSubscribe()
}

type defaultMqttClient struct {
	innerClient     mqttlib.Client
	messageCallback func(topic string, message []byte)
	configuration   configuration.MqttConfiguration
	logger          logger.Logger
}

func (cl *defaultMqttClient) Dispose() {
	cl.logger.Info("Disposing MQTT client")
	cl.innerClient.Publish(statusTopic(cl.configuration.RootTopic), 0, true, "Offline").Wait()
	cl.innerClient.Disconnect(250)
}

func (cl *defaultMqttClient) Publish(subTopic string, data []byte) {
	cl.innerClient.Publish(fmt.Sprintf("%v/%v", cl.configuration.RootTopic, subTopic), 0, false, data)
}

func (cl *defaultMqttClient) Subscribe(callback func(topic string, message []byte)) {
	cl.messageCallback = callback
}

func (cl *defaultMqttClient) UnSubscribe() {
	cl.messageCallback = nil
}

func (cl *defaultMqttClient) onMessageReceived(client mqttlib.Client, msg mqttlib.Message) {
	topic := msg.Topic()
	message := msg.Payload()

	if cl.messageCallback != nil {
		go cl.messageCallback(topic, message)
	}
}
