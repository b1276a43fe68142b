package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/airfryer/pkg/samplelog"
)

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload string
}

type testClient struct {
	paho.Client
	published    []published
	subscribed   []string
	unsubscribed []string
}

func (c *testClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.published = append(c.published, published{topic, qos, retained, string(payload.([]byte))})
	return &paho.DummyToken{}
}

func (c *testClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	c.subscribed = append(c.subscribed, topic)
	return &paho.DummyToken{}
}

func (c *testClient) Unsubscribe(topics ...string) paho.Token {
	c.unsubscribed = append(c.unsubscribed, topics...)
	return &paho.DummyToken{}
}

func TestMatchTopic(t *testing.T) {
	testCases := []struct {
		topic, pattern string
		match          bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/+/c", true},
		{"a/b/c", "a/#", true},
		{"a/b/c", "#", true},
		{"a/b/c", "a/b", false},
		{"a/b", "a/b/c", false},
		{"a/b/c", "+/sample", false},
		{"n1/sample", "+/sample", true},
		{"n1/state", "+/sample", false},
	}
	for _, tc := range testCases {
		require.Equalf(t, tc.match, MatchTopic(tc.topic, tc.pattern), "%s ~ %s", tc.topic, tc.pattern)
	}
}

func TestClientOptionsFromURL(t *testing.T) {
	opts, prefix, err := ClientOptionsFromURL("mqtt://u:p@broker:1883/oven?client-id=x")
	require.NoError(t, err)
	require.Equal(t, "oven/", prefix)
	require.Len(t, opts.Servers, 1)
	require.Equal(t, "tcp://broker:1883", opts.Servers[0].String())
	require.Equal(t, "u", opts.Username)
	require.Equal(t, "p", opts.Password)
	require.Equal(t, "x", opts.ClientID)

	_, prefix, err = ClientOptionsFromURL("ws://broker:80")
	require.NoError(t, err)
	require.Empty(t, prefix)
}

func TestQueueSubDispatch(t *testing.T) {
	c := &testClient{}
	q := &Queue{Client: c, TopicPrefix: "p/"}
	var got []string
	s1 := q.Sub("+/sample", func(topic string, payload []byte) {
		got = append(got, "s1:"+topic+":"+string(payload))
	})
	s2 := q.Sub("+/sample", func(topic string, payload []byte) {
		got = append(got, "s2:"+topic)
	})
	require.Equal(t, []string{"p/+/sample"}, c.subscribed)

	q.deliver("p/n1/sample", []byte("x"))
	q.deliver("p/n1/state", []byte("on"))
	q.deliver("other/n1/sample", []byte("y"))
	require.ElementsMatch(t, []string{"s1:n1/sample:x", "s2:n1/sample"}, got)

	require.NoError(t, s1.Close())
	require.Empty(t, c.unsubscribed)
	require.NoError(t, s1.Close())
	require.NoError(t, s2.Close())
	require.Equal(t, []string{"p/+/sample"}, c.unsubscribed)
}

func TestPublisher(t *testing.T) {
	c := &testClient{}
	p := &Publisher{Queue: &Queue{Client: c, TopicPrefix: "fry/"}, NodeID: "n1"}
	ts := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	p.PublishSample(samplelog.Sample{Time: ts, Internal: 150, Reference: 180, Signal: 100})
	p.publishState(StateOn)

	require.Len(t, c.published, 2)
	require.Equal(t, "fry/n1/sample", c.published[0].topic)
	require.False(t, c.published[0].retain)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(c.published[0].payload), &msg))
	require.Equal(t, "n1", msg["node"])
	require.Equal(t, float64(150), msg["internal"])
	require.Equal(t, float64(180), msg["reference"])
	require.Equal(t, float64(100), msg["signal"])

	require.Equal(t, published{"fry/n1/state", 1, true, StateOn}, c.published[1])

	node, sample, err := DecodeSample([]byte(c.published[0].payload))
	require.NoError(t, err)
	require.Equal(t, "n1", node)
	require.True(t, ts.Equal(sample.Time))
	require.Equal(t, "01-05-2024,12:00:00,150.00,180.00,100%", sample.Format())

	_, _, err = DecodeSample([]byte("{"))
	require.Error(t, err)
}
