package mqtt

import (
	"context"
	"encoding/json"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/robotalks/airfryer/pkg/samplelog"
)

// Node state values published retained on <node>/state.
const (
	StateOn  = "on"
	StateOff = "off"
)

// PublishTimeout bounds the final state publish on stop.
var PublishTimeout = time.Second

// Publisher publishes control samples of one node.
// Topics: <prefix><node>/sample and <prefix><node>/state.
type Publisher struct {
	Queue  *Queue
	NodeID string
}

type sampleMessage struct {
	Node string `json:"node"`
	samplelog.Sample
}

// SampleTopic returns the relative topic samples of node are published to.
func SampleTopic(node string) string {
	return node + "/sample"
}

// StateTopic returns the relative topic of the retained node state.
func StateTopic(node string) string {
	return node + "/state"
}

// NewPublisher creates a Publisher. The broker marks the node off when the
// connection drops without a clean stop.
func NewPublisher(brokerURL, nodeID string) (*Publisher, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetWill(topicPrefix+StateTopic(nodeID), StateOff, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("airfryer:" + nodeID)
	}
	p := &Publisher{Queue: NewQueue(opts, topicPrefix), NodeID: nodeID}
	p.Queue.OnConnect = func(*Queue) { p.publishState(StateOn) }
	return p, nil
}

// Name implements framework.Named.
func (p *Publisher) Name() string {
	return "mqtt"
}

// Run implements framework.Runnable.
func (p *Publisher) Run(ctx context.Context) error {
	token := p.Queue.Connect()
	go func() {
		if token.Wait(); token.Error() != nil {
			glog.Warningf("mqtt connect: %v", token.Error())
		}
	}()
	<-ctx.Done()
	if token := p.publishState(StateOff); !token.WaitTimeout(PublishTimeout) {
		glog.Warning("mqtt: state not delivered before stop")
	}
	return p.Queue.Close()
}

// PublishSample sends s without waiting for delivery.
func (p *Publisher) PublishSample(s samplelog.Sample) {
	payload, err := json.Marshal(&sampleMessage{Node: p.NodeID, Sample: s})
	if err != nil {
		glog.Errorf("mqtt sample: %v", err)
		return
	}
	p.Queue.Pub(SampleTopic(p.NodeID), payload)
}

func (p *Publisher) publishState(state string) paho.Token {
	return p.Queue.PubWith(StateTopic(p.NodeID), []byte(state), 1, true)
}

// DecodeSample parses a payload published by PublishSample.
func DecodeSample(payload []byte) (string, samplelog.Sample, error) {
	var msg sampleMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", samplelog.Sample{}, err
	}
	return msg.Node, msg.Sample, nil
}
