package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

var (
	ffprobeAvailable     *bool
	ffprobeCheckTime     time.Time
	ffprobeCheckMutex    sync.RWMutex
	ffprobeCheckInterval = 5 * time.Minute
)

type ffprobeOutput struct {
	Format ffprobeFormat `json:"format"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

// ProbeDuration runs ffprobe against the file and returns its playback
// duration. The context bounds the subprocess lifetime.
func ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path)

	output, err := cmd.Output()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			return 0, fmt.Errorf("ffprobe failed with exit code %d: %s", exitError.ExitCode(), string(exitError.Stderr))
		}
		return 0, fmt.Errorf("ffprobe command failed: %w", err)
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	if probed.Format.Duration == "" {
		return 0, fmt.Errorf("ffprobe reported no duration for %s", path)
	}

	seconds, err := strconv.ParseFloat(probed.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", probed.Format.Duration, err)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// IsFFProbeAvailable checks if ffprobe is installed, caching the result
// for a few minutes to avoid repeated lookups during a scan.
func IsFFProbeAvailable() bool {
	ffprobeCheckMutex.RLock()
	if ffprobeAvailable != nil && time.Since(ffprobeCheckTime) < ffprobeCheckInterval {
		result := *ffprobeAvailable
		ffprobeCheckMutex.RUnlock()
		return result
	}
	ffprobeCheckMutex.RUnlock()

	ffprobeCheckMutex.Lock()
	defer ffprobeCheckMutex.Unlock()

	if ffprobeAvailable != nil && time.Since(ffprobeCheckTime) < ffprobeCheckInterval {
		return *ffprobeAvailable
	}

	err := exec.Command("ffprobe", "-version").Run()
	available := err == nil

	ffprobeAvailable = &available
	ffprobeCheckTime = time.Now()

	return available
}
