//go:build !govips || !cgo

package imaging

var defaultScaler scaler = catmullRomScaler{}

func Startup() error {
	return nil
}

func Shutdown() {}

// Kernel names the resampling kernel compiled into this binary.
func Kernel() string {
	return "catmull-rom"
}
