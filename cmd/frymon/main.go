package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robotalks/airfryer/pkg/telemetry/mqtt"
)

var (
	mqttURL = "mqtt://localhost:1883/airfryer/"
)

func init() {
	if val := os.Getenv("AIRFRYER_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}

	q.Sub(mqtt.StateTopic("+"), mqtt.Handler(func(topic string, payload []byte) {
		log.Printf("%s: %s", strings.TrimSuffix(topic, "/state"), string(payload))
	}))
	q.Sub(mqtt.SampleTopic("+"), mqtt.Handler(func(topic string, payload []byte) {
		node, sample, err := mqtt.DecodeSample(payload)
		if err != nil {
			log.Printf("%s: bad sample: %v", topic, err)
			return
		}
		log.Printf("%s: %s", node, sample.Format())
	}))
	if token := q.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln(token.Error())
	}
	defer q.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
