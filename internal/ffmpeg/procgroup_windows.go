//go:build windows

package ffmpeg

import "os/exec"

// killProcessGroup keeps the default cancellation, which kills only ffmpeg.
func killProcessGroup(*exec.Cmd) {}
