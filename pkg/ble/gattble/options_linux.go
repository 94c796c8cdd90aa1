package gattble

import "github.com/fako1024/gatt"

var (
	defaultDeviceOptions = []gatt.Option{
		gatt.LnxMaxConnections(1),
		gatt.LnxDeviceID(-1, true),
	}
)
