package main

import (
	"context"
	"flag"

	"github.com/golang/glog"

	"github.com/robotalks/sfslink/pkg/cli/sh"
	"github.com/robotalks/sfslink/pkg/env"
	fx "github.com/robotalks/sfslink/pkg/framework"
	"github.com/robotalks/sfslink/pkg/metrics"
	"github.com/robotalks/sfslink/pkg/relay"

	_ "github.com/robotalks/sfslink/pkg/cli/cmds/all"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	conf := env.NewConfig()
	s := sh.New(conf).WithAutoConnect(true)
	s.Args = flag.Args()

	runner := fx.NewRunner().HandleSignals()
	if conf.MetricsAddr != "" {
		reg := metrics.NewRegistry()
		s.Observer = metrics.NewObserver(reg)
		runner.Go(&metrics.Server{Addr: conf.MetricsAddr, Registry: reg})
	}
	if conf.MQTTURL != "" {
		r, err := newRelay(runner.Context, conf)
		if err != nil {
			glog.Exit(err)
		}
		s.Handler = r
		runner.Go(r)
	}
	runner.Go(s)
	if err := runner.Wait(); err != nil {
		glog.Exit(err)
	}
}

func newRelay(ctx context.Context, conf *env.Config) (*relay.Relay, error) {
	gatewayID, err := conf.Gateway()
	if err != nil {
		return nil, err
	}
	q, err := relay.NewQueueFromURL(conf.MQTTURL)
	if err != nil {
		return nil, err
	}
	if err := q.Connect(ctx); err != nil {
		return nil, err
	}
	glog.Infof("relay advertisements to %s%s/%s", q.TopicPrefix, gatewayID, relay.DefaultTopic)
	return relay.New(q, gatewayID), nil
}
