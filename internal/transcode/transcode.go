// Package transcode muxes original audio onto a rendered intermediate
// video through an external transcoder, with a hardware-first fallback
// chain per spec §4.9.
package transcode

import (
	"context"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"subcap/internal/domain"
)

const pollInterval = 500 * time.Millisecond
const terminateGrace = 2 * time.Second

type attempt struct {
	name string
	args func(intermediate, audioSource, output string) []string
}

var attempts = []attempt{
	{
		name: "hardware h264 + audio copy",
		args: func(intermediate, audioSource, output string) []string {
			return []string{"-y", "-i", intermediate, "-i", audioSource, "-map", "0:v:0", "-map", "1:a:0",
				"-c:v", "h264_videotoolbox", "-c:a", "copy", output}
		},
	},
	{
		name: "hardware h264 + aac",
		args: func(intermediate, audioSource, output string) []string {
			return []string{"-y", "-i", intermediate, "-i", audioSource, "-map", "0:v:0", "-map", "1:a:0",
				"-c:v", "h264_videotoolbox", "-c:a", "aac", output}
		},
	},
	{
		name: "software h264 + aac",
		args: func(intermediate, audioSource, output string) []string {
			return []string{"-y", "-i", intermediate, "-i", audioSource, "-map", "0:v:0", "-map", "1:a:0",
				"-c:v", "libx264", "-c:a", "aac", output}
		},
	},
}

// Mux tries each attempt in order against ffmpeg, returning the first
// successful output path. If all attempts fail, it returns intermediate
// unchanged so the render keeps a usable artifact. stop is polled every
// 500ms; when set, the running child receives SIGTERM, then SIGKILL after a
// 2s grace period, and the attempt is treated as cancelled (not retried).
func Mux(ctx context.Context, intermediate, audioSource, output string, stop func() bool) (string, error) {
	for _, a := range attempts {
		ok, cancelled := runAttempt(ctx, a, intermediate, audioSource, output, stop)
		if cancelled {
			return "", domain.NewError(domain.KindCancelled, "transcode cancelled", nil)
		}
		if ok {
			return output, nil
		}
		log.Debug().Str("attempt", a.name).Msg("transcode: attempt failed, falling through")
	}
	log.Warn().Msg("transcode: all attempts failed, keeping intermediate as output")
	return intermediate, nil
}

func runAttempt(ctx context.Context, a attempt, intermediate, audioSource, output string, stop func() bool) (ok bool, cancelled bool) {
	cmd := exec.CommandContext(ctx, "ffmpeg", a.args(intermediate, audioSource, output)...)
	if err := cmd.Start(); err != nil {
		return false, false
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return err == nil, false
		case <-ticker.C:
			if stop != nil && stop() {
				terminateThenKill(cmd, done)
				return false, true
			}
		}
	}
}

// terminateThenKill signals cmd to stop, waiting up to terminateGrace on
// done (the channel already fed by runAttempt's own cmd.Wait goroutine)
// before escalating to SIGKILL. It never calls Wait itself, since exec.Cmd
// only tolerates one Wait call per process.
func terminateThenKill(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(terminateGrace):
		_ = cmd.Process.Kill()
		<-done
	}
}
