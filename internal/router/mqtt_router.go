package router

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/supby/smacrelay/internal/logger"
	"github.com/supby/smacrelay/internal/mqtt"
	"github.com/supby/smacrelay/internal/protocol"
	"github.com/supby/smacrelay/internal/registry"
	"github.com/supby/smacrelay/internal/types"
)

const (
	MQTT_GATEWAY   = "gateway"
	MQTT_NODES     = "nodes"
	MQTT_GET_NODES = "get_nodes"
	MQTT_STATUS    = "status"
	MQTT_ERROR     = "error"
	MQTT_NOTICE    = "notice"
	MQTT_LOG       = "log"
	MQTT_COMMAND   = "command"
)

type mqttRouter struct {
	mqttClient       mqtt.MqttClient
	onCommandRequest func(req types.CommandRequest)
	onGetNodes       func()
	logger           logger.Logger
}

func NewMQTTRouter(mqttClient mqtt.MqttClient, logLevel int) MQTTRouter {
	ret := mqttRouter{
		mqttClient: mqttClient,
		logger:     logger.GetLogger("[MQTT Router]", logLevel),
	}

	mqttClient.Subscribe(ret.mqttMessage)

	return &ret
}

func (h *mqttRouter) PublishSample(sample protocol.DeviceSample) {
	h.publishJSON(fmt.Sprintf("%02d/%02d", sample.NodeID, sample.DeviceID), types.NewDeviceSampleMessage(sample))
}

func (h *mqttRouter) PublishNodes(nodes []registry.Node) {
	h.PublishGatewayMessage(types.NewNodesMessage(nodes), MQTT_NODES)
}

func (h *mqttRouter) PublishNodeLog(nodeID int, text string) {
	h.mqttClient.Publish(fmt.Sprintf("%02d/%v", nodeID, MQTT_LOG), []byte(text))
}

// PublishGatewayMessage publishes strings verbatim and anything else as
// JSON under <root>/gateway/<subtopic>.
func (h *mqttRouter) PublishGatewayMessage(msg interface{}, subtopic string) {
	topic := fmt.Sprintf("%v/%v", MQTT_GATEWAY, subtopic)

	switch m := msg.(type) {
	case string:
		h.mqttClient.Publish(topic, []byte(m))
	case fmt.Stringer:
		h.mqttClient.Publish(topic, []byte(m.String()))
	default:
		h.publishJSON(topic, msg)
	}
}

func (h *mqttRouter) publishJSON(topic string, msg interface{}) {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Error Marshal message for '%v': %v", topic, err)
		return
	}

	h.mqttClient.Publish(topic, jsonData)
}

func (h *mqttRouter) SubscribeOnCommandRequest(callback func(req types.CommandRequest)) {
	h.onCommandRequest = callback
}

func (h *mqttRouter) SubscribeOnGetNodes(callback func()) {
	h.onGetNodes = callback
}

func (h *mqttRouter) mqttMessage(topic string, message []byte) {
	topicParts := strings.Split(topic, "/")
	if len(topicParts) < 3 {
		return
	}

	if topicParts[1] == MQTT_GATEWAY {
		h.handleGatewayMessage(topicParts[2], message)
		return
	}

	if len(topicParts) == 4 && topicParts[3] == MQTT_COMMAND {
		h.handleDeviceCommand(topicParts[1], topicParts[2], message)
	}
}

func (h *mqttRouter) handleGatewayMessage(command string, message []byte) {
	if command == MQTT_GET_NODES && h.onGetNodes != nil {
		h.onGetNodes()
	}
}

func (h *mqttRouter) handleDeviceCommand(nodeStr, deviceStr string, message []byte) {
	nodeID, err := strconv.Atoi(nodeStr)
	if err != nil {
		h.logger.Warn("Error parsing node id '%v': %v", nodeStr, err)
		return
	}
	deviceID, err := strconv.Atoi(deviceStr)
	if err != nil {
		h.logger.Warn("Error parsing device id '%v': %v", deviceStr, err)
		return
	}

	var cmdMsg mqtt.DeviceCommandMessage
	if err := json.Unmarshal(message, &cmdMsg); err != nil {
		h.logger.Warn("Error unmarshal command message: %v", err)
		return
	}

	h.logger.Debug("Command message received. Node:%02d, Device:%02d, Opcode:%v", nodeID, deviceID, cmdMsg.Opcode)

	if h.onCommandRequest != nil {
		h.onCommandRequest(types.CommandRequest{
			NodeID:   nodeID,
			DeviceID: deviceID,
			Opcode:   cmdMsg.Opcode,
			Params:   cmdMsg.Params,
		})
	}
}
