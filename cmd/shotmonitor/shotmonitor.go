package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fako1024/shotctl/pkg/api"
	"github.com/fako1024/shotctl/pkg/blescale"
	"github.com/fako1024/shotctl/pkg/capture"
	"github.com/fako1024/shotctl/pkg/clock"
	"github.com/fako1024/shotctl/pkg/config"
	"github.com/fako1024/shotctl/pkg/devices"
	"github.com/fako1024/shotctl/pkg/loop"
	"github.com/fako1024/shotctl/pkg/machine"
	"github.com/fako1024/shotctl/pkg/profile"
	"github.com/fako1024/shotctl/pkg/scale"
	"github.com/fako1024/shotctl/pkg/timing"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const preheatSamples = 5

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "shotmonitor: %s\n", err)
		os.Exit(1)
	}
}

func run() error {

	cfg, err := config.Load(pflag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	// The shot capture receives everything, independent of the console level
	shotLog := capture.New(clock.Real(), zapcore.DebugLevel)
	logger := scale.NewDefaultLogger(cfg.Debug, shotLog)
	defer func() {
		_ = logger.Sync()
	}()

	prof := profile.Default()
	if cfg.Profile != "" {
		if prof, err = profile.Load(cfg.Profile); err != nil {
			return err
		}
	}
	logger.Infof("using profile `%s` (%d frames)", prof.Title, len(prof.Frames))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := loop.New()

	dev, ref, err := devices.New(cfg.Scale, devices.GATT, logger,
		append(cfg.ScaleOptions(), blescale.WithExecutor(l))...)
	if err != nil {
		return err
	}

	ctrl := timing.New(
		timing.WithExecutor(l),
		timing.WithLogger(logger),
		timing.WithCapture(shotLog),
		timing.WithSettings(cfg.Settings()),
	)
	ctrl.SetScale(dev)
	ctrl.SetProfile(prof)

	wireDevice(dev, ctrl, logger)
	if cfg.Simulate {
		wireSimulator(machine.NewSimulator(prof,
			machine.WithExecutor(l),
			machine.WithLogger(logger),
			machine.WithPreheatSamples(preheatSamples),
		), ctrl, logger)
	} else {
		logger.Info("no machine connected, shot time will only advance with --simulate")
	}

	// Nothing runs on the loop yet, so setup may touch the device directly
	logger.Infof("connecting %s (%s/%s)", dev.Name(), ref.Name, ref.ID)
	if err := dev.Connect(ref); err != nil {
		logger.Warnf("failed to connect weight device: %s", err)
	}

	server := api.New(ctrl, dev, l, api.WithShotLog(shotLog))
	go func() {
		logger.Infof("serving API on %s", cfg.API.Listen)
		if err := server.Listen(cfg.API.Listen); err != nil {
			logger.Errorf("API server failed: %s", err)
			stop()
		}
	}()

	if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")

	if err := server.Shutdown(); err != nil {
		logger.Warnf("failed to shut down API server: %s", err)
	}
	ctrl.Close()

	return dev.Disconnect()
}

// wireDevice forwards readings and status changes of the device to the controller
func wireDevice(dev scale.Device, ctrl *timing.Controller, logger *zap.SugaredLogger) {
	dev.SetDataHandler(func(data scale.DataPoint) {
		ctrl.OnWeightSample(data.Weight, data.FlowRate)
	})
	dev.SetStateChangeHandler(func(status scale.ConnectionStatus) {
		if status.Error != nil {
			logger.Warnf("%s: %s (%s)", dev.Name(), status.State, status.Error)
		} else {
			logger.Infof("%s: %s", dev.Name(), status.State)
		}
		ctrl.OnScaleStatus(status)
	})
}

// wireSimulator connects the simulated machine and the controller in both
// directions: samples and shot start / end, and the stop signals
func wireSimulator(sim *machine.Simulator, ctrl *timing.Controller, logger *zap.SugaredLogger) {
	var mc machine.Controller = sim

	sim.SetSampleHandler(ctrl.OnShotSample)
	sim.SetShotEndHandler(ctrl.EndShot)

	ctrl.SetStopAtWeightHandler(func() {
		if err := mc.StopShot(); err != nil {
			logger.Warnf("failed to stop shot: %s", err)
		}
	})
	ctrl.SetPerFrameWeightHandler(func(frame int) {
		if err := mc.SkipToNextFrame(); err != nil {
			logger.Warnf("failed to skip frame %d: %s", frame, err)
		}
	})

	ctrl.SetChangeHandler(func(change timing.Change) {
		if change != timing.ChangeShotState {
			return
		}

		switch ctrl.ShotState() {
		case timing.ShotActive:
			if !sim.IsRunning() {
				if err := sim.Start(); err != nil {
					logger.Errorf("failed to start simulated shot: %s", err)
				}
			}
		case timing.ShotEnded:
			if sim.IsRunning() {
				_ = sim.StopShot()
			}
		}
	})
}
