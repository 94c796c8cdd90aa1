package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fako1024/shotctl/pkg/blescale"
	"github.com/fako1024/shotctl/pkg/config"
	"github.com/fako1024/shotctl/pkg/devices"
	"github.com/fako1024/shotctl/pkg/loop"
	"github.com/fako1024/shotctl/pkg/scale"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const commandFlushDelay = 500 * time.Millisecond

type toolConfig struct {
	tare    bool
	timer   string
	timeout time.Duration

	togglePrecision bool
	toggleBuzzer    bool
}

type precisionToggler interface {
	TogglePrecision() error
}

type buzzerToggler interface {
	ToggleBuzzingOnTouch() error
}

var log = logrus.New()

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {

	// Parse command line options
	var tcfg toolConfig
	fs := pflag.NewFlagSet("scaletool", pflag.ExitOnError)
	fs.BoolVar(&tcfg.tare, "tare", false, "Tare the scale")
	fs.StringVar(&tcfg.timer, "timer", "", "Control the onboard timer (start, stop, reset)")
	fs.DurationVar(&tcfg.timeout, "timeout", 30*time.Second, "Maximum time to wait for the scale to deliver data")
	fs.BoolVarP(&tcfg.togglePrecision, "toggle-precision", "P", false, "Toggle the scale precision (Felicita only)")
	fs.BoolVarP(&tcfg.toggleBuzzer, "toggle-buzzer", "b", false, "Toggle the buzzer on touch / action feature (Felicita only)")

	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		return err
	}
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}
	if cfg.Scale.Type == config.ScaleTypeFlow {
		return errors.New("scaletool requires a physical scale (bookoo or felicita)")
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
		return err
	}

	stateChan := make(chan scale.ConnectionStatus, 16)
	s.SetStateChangeChannel(stateChan)

	var connectErr error
	if err := l.Do(ctx, func() { connectErr = s.Connect(ref) }); err != nil {
		return err
	}
	if connectErr != nil {
		return fmt.Errorf("failed to connect %s: %w", s.Name(), connectErr)
	}
	defer func() {
		if derr := l.Do(context.Background(), func() { _ = s.Disconnect() }); derr != nil {
			log.Debugf("failed to disconnect: %s", derr)
		}
	}()

	if err := waitConnected(ctx, stateChan, tcfg.timeout); err != nil {
		return err
	}
	log.Infof("%s connected", s.Name())

	var execErr error
	if err := l.Do(ctx, func() { execErr = execute(s, tcfg) }); err != nil {
		return err
	}

	// Commands are written asynchronously, give them time to reach the scale
	time.Sleep(commandFlushDelay)

	return execErr
}

func waitConnected(ctx context.Context, stateChan chan scale.ConnectionStatus, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case st := <-stateChan:
			log.Debugf("state change: %s (%v)", st.State, st.Error)
			switch st.State {
			case scale.StateConnected:
				return nil
			case scale.StateFailed, scale.StateDisconnected:
				return fmt.Errorf("connection failed: %v", st.Error)
			}
			if errors.Is(st.Error, scale.ErrNotResponding) {
				return st.Error
			}
		case <-timer.C:
			return fmt.Errorf("scale did not deliver data within %v", timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func execute(s scale.Device, tcfg toolConfig) error {
	if tcfg.tare {
		if err := s.Tare(); err != nil {
			return fmt.Errorf("failed to tare scale: %w", err)
		}
	}

	if tcfg.timer != "" {
		t, ok := s.(scale.Timer)
		if !ok {
			return fmt.Errorf("%s has no onboard timer", s.Name())
		}

		var err error
		switch tcfg.timer {
		case "start":
			err = t.StartTimer()
		case "stop":
			err = t.StopTimer()
		case "reset":
			err = t.ResetTimer()
		default:
			return fmt.Errorf("unknown timer action `%s`", tcfg.timer)
		}
		if err != nil {
			return fmt.Errorf("failed to %s timer: %w", tcfg.timer, err)
		}
	}

	if tcfg.togglePrecision {
		p, ok := s.(precisionToggler)
		if !ok {
			return fmt.Errorf("%s does not support toggling the precision", s.Name())
		}
		if err := p.TogglePrecision(); err != nil {
			return fmt.Errorf("failed to toggle scale precision: %w", err)
		}
	}
	if tcfg.toggleBuzzer {
		b, ok := s.(buzzerToggler)
		if !ok {
			return fmt.Errorf("%s does not support toggling the buzzer", s.Name())
		}
		if err := b.ToggleBuzzingOnTouch(); err != nil {
			return fmt.Errorf("failed to toggle buzzer on touch / action: %w", err)
		}
	}

	log.Infof("current weight: %.2fg", s.Weight())

	return nil
}
