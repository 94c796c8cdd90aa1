// Package api provides a REST API to control and inspect the shot controller.
// Every request is executed on the loop owning the controller
package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fako1024/shotctl/pkg/loop"
	"github.com/fako1024/shotctl/pkg/scale"
	"github.com/fako1024/shotctl/pkg/timing"
	"github.com/gofiber/fiber/v2"
)

const defaultRequestTimeout = 5 * time.Second

// Runner denotes the loop owning the controller and the device
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// ScaleStatus denotes the status of the weight device
type ScaleStatus struct {
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Error     string  `json:"error,omitempty"`
	Connected bool    `json:"connected"`
	Weight    float64 `json:"weight"`
	FlowRate  float64 `json:"flow_rate"`
}

// Status denotes the response of the status endpoint
type Status struct {
	Shot  timing.Snapshot `json:"shot"`
	Scale *ScaleStatus    `json:"scale,omitempty"`
}

// API denotes a REST API for the shot controller
type API struct {
	ctrl   *timing.Controller
	device scale.Device
	runner Runner

	shotLog        fmt.Stringer
	requestTimeout time.Duration

	router *fiber.App
}

// Option denotes a functional option for the API
type Option func(*API)

// WithShotLog exposes the captured log of the last shot
func WithShotLog(shotLog fmt.Stringer) Option {
	return func(api *API) {
		api.shotLog = shotLog
	}
}

// WithRequestTimeout sets the maximum time a request waits for the loop
func WithRequestTimeout(d time.Duration) Option {
	return func(api *API) {
		api.requestTimeout = d
	}
}

// New instantiates a new API
func New(ctrl *timing.Controller, device scale.Device, runner Runner, options ...Option) *API {

	api := &API{
		ctrl:           ctrl,
		device:         device,
		runner:         runner,
		requestTimeout: defaultRequestTimeout,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
	}

	for _, option := range options {
		option(api)
	}

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Post("/tare", api.handleAction(api.ctrl.Tare))
	api.router.Post("/shot/start", api.handleAction(api.ctrl.StartShot))
	api.router.Post("/shot/stop", api.handleAction(api.ctrl.EndShot))
	api.router.Post("/target_weight/:grams", api.handleTargetWeight())
	api.router.Get("/shot/log", api.handleShotLog())
	api.router.Post("/timer/:action", api.handleTimer())

	return api
}

// App returns the underlying fiber app
func (api *API) App() *fiber.App {
	return api.router
}

// Listen serves the API on the given address (blocking)
func (api *API) Listen(addr string) error {
	return api.router.Listen(addr)
}

// Shutdown gracefully stops the server
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

////////////////////////////////////////////////////////////////////////////////

// run executes fn on the owning loop. A request that already timed out by the
// time the loop picks it up is not executed, so a 504 never has side effects
func (api *API) run(c *fiber.Ctx, fn func()) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), api.requestTimeout)
	defer cancel()

	if err := api.runner.Do(ctx, func() {
		if ctx.Err() != nil {
			return
		}
		fn()
	}); err != nil {
		if errors.Is(err, loop.ErrStopped) {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return fiber.NewError(fiber.StatusGatewayTimeout, err.Error())
	}

	return nil
}

func (api *API) status() Status {
	status := Status{
		Shot: api.ctrl.Snapshot(),
	}
	if api.device != nil {
		connStatus := api.device.ConnectionStatus()
		status.Scale = &ScaleStatus{
			Name:      api.device.Name(),
			State:     connStatus.State.String(),
			Connected: api.device.IsConnected(),
			Weight:    api.device.Weight(),
			FlowRate:  api.device.FlowRate(),
		}
		if connStatus.Error != nil {
			status.Scale.Error = connStatus.Error.Error()
		}
	}

	return status
}

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		var status Status
		if err := api.run(c, func() { status = api.status() }); err != nil {
			return err
		}

		return c.JSON(status)
	}
}

func (api *API) handleAction(action func()) func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		var snap timing.Snapshot
		if err := api.run(c, func() {
			action()
			snap = api.ctrl.Snapshot()
		}); err != nil {
			return err
		}

		return c.JSON(snap)
	}
}

func (api *API) handleTargetWeight() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		grams, err := strconv.ParseFloat(c.Params("grams"), 64)
		if err != nil || grams < 0 {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid target weight `%s`", c.Params("grams")))
		}

		return api.handleAction(func() { api.ctrl.SetTargetWeight(grams) })(c)
	}
}

func (api *API) handleShotLog() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		if api.shotLog == nil {
			return fiber.NewError(fiber.StatusNotFound, "shot log capture not enabled")
		}

		return c.SendString(api.shotLog.String())
	}
}

func (api *API) handleTimer() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		timer, ok := api.device.(scale.Timer)
		if !ok {
			return fiber.NewError(fiber.StatusNotImplemented, "weight device has no timer")
		}

		var action func() error
		switch c.Params("action") {
		case "start":
			action = timer.StartTimer
		case "stop":
			action = timer.StopTimer
		case "reset":
			action = timer.ResetTimer
		default:
			return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("unknown timer action `%s`", c.Params("action")))
		}

		var (
			actionErr error
			elapsed   time.Duration
		)
		if err := api.run(c, func() {
			actionErr = action()
			elapsed = timer.ElapsedTime()
		}); err != nil {
			return err
		}
		if actionErr != nil {
			return fiber.NewError(fiber.StatusInternalServerError, actionErr.Error())
		}

		return c.JSON(fiber.Map{"elapsed": elapsed.Seconds()})
	}
}
