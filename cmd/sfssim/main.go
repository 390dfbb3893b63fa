package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	fx "github.com/robotalks/sfslink/pkg/framework"
	"github.com/robotalks/sfslink/pkg/uart/cmds"
	"github.com/robotalks/sfslink/pkg/uart/sim"
)

var (
	tcpAddr     = ":7070"
	wsAddr      = ":7071"
	advInterval = 10 * time.Second
	bootReason  = uint(cmds.ResetReasonSoftReset)
)

func init() {
	if val := os.Getenv("SFS_SIM_ADDR"); val != "" {
		tcpAddr = val
	}
	flag.StringVar(&tcpAddr, "listen", tcpAddr, "TCP listen address, empty to disable.")
	flag.StringVar(&wsAddr, "ws", wsAddr, "Websocket listen address, empty to disable.")
	flag.DurationVar(&advInterval, "adv-interval", advInterval, "Advertisement interval, 0 to disable.")
	flag.UintVar(&bootReason, "boot-reason", bootReason, "Reset reason reported on each connection.")
}

type server struct {
	dev *sim.Device
}

func (s *server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	glog.Infof("%s connected", conn.RemoteAddr())
	if err := s.dev.Serve(ctx, conn); err != nil && ctx.Err() == nil {
		glog.Warningf("%s: %v", conn.RemoteAddr(), err)
	}
	glog.Infof("%s disconnected", conn.RemoteAddr())
}

func (s *server) runTCP(ctx context.Context) error {
	ln, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		return err
	}
	glog.Infof("serving tcp://%s", ln.Addr())
	return fx.RunWithContextCloser(ctx, ln, func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			go s.serve(ctx, conn)
		}
	})
}

func (s *server) runWebsocket(ctx context.Context) error {
	ln, err := net.Listen("tcp", wsAddr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/", websocket.Handler(func(conn *websocket.Conn) {
		conn.PayloadType = websocket.BinaryFrame
		s.serve(ctx, conn)
	}))
	srv := &http.Server{Handler: mux}
	glog.Infof("serving ws://%s/", ln.Addr())
	return fx.RunWithContextCloser(ctx, srv, func() error {
		return srv.Serve(ln)
	})
}

func (s *server) advertise(ctx context.Context) error {
	ticker := time.NewTicker(advInterval)
	defer ticker.Stop()
	var seq uint32
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			seq++
			if err := s.dev.Advertise([]uint32{seq}, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
				glog.Warningf("advertise: %v", err)
			}
		}
	}
}

func main() {
	flag.Parse()
	s := &server{dev: sim.NewDevice()}
	s.dev.AnnounceReset = true
	s.dev.BootReason = cmds.ResetReason(bootReason)

	runner := fx.NewRunner().HandleSignals()
	if tcpAddr != "" {
		runner.Go(fx.NamedRun("tcp", fx.RunFunc(s.runTCP)))
	}
	if wsAddr != "" {
		runner.Go(fx.NamedRun("websocket", fx.RunFunc(s.runWebsocket)))
	}
	if advInterval > 0 {
		runner.Go(fx.NamedRun("advertiser", fx.RunFunc(s.advertise)))
	}
	if err := runner.Wait(); err != nil {
		glog.Exit(err)
	}
}
