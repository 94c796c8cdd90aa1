package felicita

import "github.com/fako1024/shotctl/pkg/blescale"

// BuzzerSetting denotes the buzzer (on touch) setting to enforce upon connection
type BuzzerSetting string

const (

	// BuzzerSettingOn forces the buzzer on
	BuzzerSettingOn BuzzerSetting = "on"

	// BuzzerSettingOff forces the buzzer off
	BuzzerSettingOff BuzzerSetting = "off"
)

// Option denotes a functional option for a Felicita scale
type Option func(*Felicita)

// WithBuzzerSetting enforces a buzzer setting upon first data reception
func WithBuzzerSetting(setting BuzzerSetting) Option {
	return func(f *Felicita) {
		f.forceBuzzerSettingOnConnect = setting
	}
}

// WithScaleOptions passes options to the underlying connection state machine
func WithScaleOptions(options ...blescale.Option) Option {
	return func(f *Felicita) {
		f.scaleOptions = append(f.scaleOptions, options...)
	}
}
