// Package config resolves hostpatch's ambient settings from environment
// variables via github.com/xyproto/env/v2, the teacher's dependency for
// exactly this purpose. These values are the fallbacks used when the
// corresponding CLI flag is absent.
package config

import "github.com/xyproto/env/v2"

const (
	envVerbose  = "HOSTPATCH_VERBOSE"
	envDeviceIR = "HOSTPATCH_DEVICE_IR"
)

// Verbose reports whether HOSTPATCH_VERBOSE is set truthy, used as the
// fallback when -v/--verbose was not passed on the command line.
func Verbose() bool {
	return env.Bool(envVerbose)
}

// DeviceIRPath returns HOSTPATCH_DEVICE_IR if set, the fallback used when
// --devicellfile was not passed on the command line; "" if unset.
func DeviceIRPath() string {
	return env.Str(envDeviceIR)
}
