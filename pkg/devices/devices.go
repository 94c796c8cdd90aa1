// Package devices instantiates the weight device selected by the configuration
package devices

import (
	"fmt"

	"github.com/fako1024/shotctl/pkg/ble"
	"github.com/fako1024/shotctl/pkg/ble/gattble"
	"github.com/fako1024/shotctl/pkg/blescale"
	"github.com/fako1024/shotctl/pkg/bookoo"
	"github.com/fako1024/shotctl/pkg/config"
	"github.com/fako1024/shotctl/pkg/felicita"
	"github.com/fako1024/shotctl/pkg/flowscale"
	"github.com/fako1024/shotctl/pkg/scale"
)

// TransportFactory creates the BLE transport for physical devices
type TransportFactory func(logger scale.Logger) ble.Transport

// GATT creates a transport on the local HCI adapter
func GATT(logger scale.Logger) ble.Transport {
	return gattble.New(gattble.WithLogger(logger))
}

// New instantiates the configured weight device and returns the reference to
// connect it with. Physical devices default to their advertised protocol name
func New(cfg config.ScaleConfig, newTransport TransportFactory, logger scale.Logger, options ...blescale.Option) (scale.Device, scale.DeviceRef, error) {
	ref := scale.DeviceRef{
		ID:   cfg.ID,
		Name: cfg.Name,
	}
	options = append(options, blescale.WithLogger(logger))

	var dev scale.Device
	switch cfg.Type {
	case config.ScaleTypeBookoo:
		dev = bookoo.New(newTransport(logger), options...)
	case config.ScaleTypeFelicita:
		dev = felicita.New(newTransport(logger), felicita.WithScaleOptions(options...))
	case config.ScaleTypeFlow:
		return flowscale.New(flowscale.WithLogger(logger)), ref, nil
	default:
		return nil, ref, fmt.Errorf("unsupported scale type `%s`", cfg.Type)
	}

	if ref.Name == "" && ref.ID == "" {
		ref.Name = dev.Name()
	}

	return dev, ref, nil
}
