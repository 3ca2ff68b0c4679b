package shader

import "errors"

var (
	// ErrNilProvider is returned when a nil DeviceProvider is passed.
	ErrNilProvider = errors.New("shader: nil DeviceProvider")

	// ErrNoHAL is returned when the provider does not expose a HAL device.
	ErrNoHAL = errors.New("shader: provider does not expose a HAL device")

	// ErrClosed is returned by a closed pipeline.
	ErrClosed = errors.New("shader: pipeline closed")

	// ErrSimulatedLoss is the cause reported after SoftwareBackend.LoseContext.
	ErrSimulatedLoss = errors.New("shader: simulated context loss")

	errDeviceLost = errors.New("shader: device lost")
)
