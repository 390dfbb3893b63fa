package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/robotalks/sfslink/pkg/relay"
	"github.com/robotalks/sfslink/pkg/relay/msgs"
	"github.com/robotalks/sfslink/pkg/uart/cmds"
)

var (
	mqttURL = "mqtt://localhost:1883/sfs/"
	pattern = "+/" + relay.DefaultTopic
)

func init() {
	if val := os.Getenv("SFS_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.StringVar(&pattern, "topic", pattern, "Topic pattern to subscribe.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := relay.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	q.Subscribe(pattern, func(topic string, payload []byte) {
		adv, err := msgs.DecodeAdvertisement(payload)
		if err != nil {
			log.Printf("%s: bad message: %v", topic, err)
			return
		}
		log.Printf("%s: [%s] gateway=%s msg_id=%d args=%v payload=%x received=%s",
			topic, cmds.Name(uint16(adv.Command)), adv.GatewayID, adv.MsgID, adv.Args, adv.Payload,
			time.Unix(0, adv.ReceivedAt).Format(time.RFC3339Nano))
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = q.Connect(ctx)
	cancel()
	if err != nil {
		log.Fatalln(err)
	}
	<-(chan struct{})(nil)
}
