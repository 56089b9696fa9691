package router

import (
	"github.com/supby/smacrelay/internal/protocol"
	"github.com/supby/smacrelay/internal/registry"
	"github.com/supby/smacrelay/internal/types"
)

type MQTTRouter interface {
	PublishSample(sample protocol.DeviceSample)
	PublishNodes(nodes []registry.Node)
	PublishNodeLog(nodeID int, text string)
	PublishGatewayMessage(msg interface{}, subtopic string)

	SubscribeOnCommandRequest(callback func(req types.CommandRequest))
	SubscribeOnGetNodes(callback func())
}
