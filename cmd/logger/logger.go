package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fako1024/shotctl/pkg/blescale"
	"github.com/fako1024/shotctl/pkg/config"
	"github.com/fako1024/shotctl/pkg/devices"
	"github.com/fako1024/shotctl/pkg/loop"
	"github.com/fako1024/shotctl/pkg/scale"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var log = logrus.New()

func main() {

	// Parse command line options
	cfg, err := config.Load(pflag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %s", err)
	}
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := loop.New()
	go func() {
		_ = l.Run(ctx)
	}()

	s, ref, err := devices.New(cfg.Scale, devices.GATT, log,
		append(cfg.ScaleOptions(), blescale.WithExecutor(l))...)
	if err != nil {
		log.Fatalf("Failed to initialize scale: %s", err)
	}

	dataChan := make(chan scale.DataPoint, 256)
	s.SetDataChannel(dataChan)

	stateChan := make(chan scale.ConnectionStatus, 16)
	s.SetStateChangeChannel(stateChan)

	if err := l.Do(ctx, func() {
		if err := s.Connect(ref); err != nil {
			log.Errorf("Failed to connect %s: %s", s.Name(), err)
			stop()
		}
	}); err != nil {
		log.Fatalf("Failed to connect %s: %s", s.Name(), err)
	}

	for {
		select {
		case data := <-dataChan:
			log.Infof("%s: %8.2f%s (%5.2f g/s)", data.TimeStamp.Format("15:04:05.000"), data.Weight, data.Unit, data.FlowRate)
		case st := <-stateChan:
			if st.Error != nil {
				log.Warnf("State change: %s (%s)", st.State, st.Error)
				continue
			}
			log.Infof("State change: %s", st.State)
		case <-ctx.Done():
			log.Infof("Got signal, terminating connection to device")
			if err := s.Disconnect(); err != nil {
				log.Warnf("Failed to disconnect: %s", err)
			}
			return
		}
	}
}
