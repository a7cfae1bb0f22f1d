package hands

import (
	"os"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"mindincarnation/internal/config"
	"mindincarnation/internal/logging"
)

// Command substrings that trigger interrupt detection per mode. on_high_risk
// is a subset of on_any_external plus piped-installer patterns.
var (
	externalCommandMarkers = []string{
		"pip install", "npm install", "pnpm install", "yarn add",
		"curl ", "wget ", "git push", "rm -rf", "sudo ",
	}
	highRiskCommandMarkers = []string{
		"git push", "rm -rf", "sudo ",
	}
	pipedInstallerPattern = regexp.MustCompile(`(curl|wget)[^|\n]*\|\s*sh`)
)

// commandMatchesMode applies the detection heuristic for the configured mode.
// The piped-installer pattern covers "curl https://x | sh" and the
// no-whitespace "curl https://x|sh" form.
func commandMatchesMode(mode, command string) bool {
	cmd := strings.ToLower(command)
	switch mode {
	case config.InterruptOnAnyExternal:
		for _, m := range externalCommandMarkers {
			if strings.Contains(cmd, m) {
				return true
			}
		}
	case config.InterruptOnHighRisk:
		for _, m := range highRiskCommandMarkers {
			if strings.Contains(cmd, m) {
				return true
			}
		}
		return pipedInstallerPattern.MatchString(cmd)
	}
	return false
}

// interrupter is the timer-driven escalation state machine. One signal per
// escalation tick, idempotent per index; escalation runs until the process
// exits even when the command predates detection.
type interrupter struct {
	cfg        config.InterruptConfig
	transcript *Transcript

	mu          sync.Mutex
	requestedAt time.Time
	sentIdx     int
}

func newInterrupter(cfg config.InterruptConfig, transcript *Transcript) *interrupter {
	return &interrupter{cfg: cfg, transcript: transcript}
}

// observe inspects a started command and arms the escalation clock.
func (it *interrupter) observe(command string) {
	if it.cfg.Mode == "" || it.cfg.Mode == config.InterruptOff {
		return
	}
	if !commandMatchesMode(it.cfg.Mode, command) {
		return
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.requestedAt.IsZero() {
		it.requestedAt = time.Now()
		it.transcript.Meta("mi.interrupt.requested mode=%s command=%q", it.cfg.Mode, truncateCmd(command))
		logging.Hands("interrupt requested (mode=%s): %s", it.cfg.Mode, truncateCmd(command))
	}
}

// tick sends the next pending signal when its escalation delay elapsed.
// Delays are prefix-zero: signal i fires at escalation_ms[i-1], signal 0
// immediately.
func (it *interrupter) tick(proc *os.Process) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.requestedAt.IsZero() || proc == nil {
		return
	}
	elapsed := time.Since(it.requestedAt)
	for it.sentIdx < len(it.cfg.SignalSequence) {
		if elapsed < it.delayFor(it.sentIdx) {
			return
		}
		name := it.cfg.SignalSequence[it.sentIdx]
		if err := proc.Signal(signalByName(name)); err != nil {
			it.transcript.Meta("mi.interrupt.send_failed=%s err=%v", name, err)
		} else {
			it.transcript.Meta("mi.interrupt.sent=%s", name)
			logging.Hands("sent %s to hands pid=%d", name, proc.Pid)
		}
		it.sentIdx++
	}
}

// delayFor is the elapsed time before signal i may fire. Prefix-zero: signal
// 0 fires immediately, signal i at escalation_ms[i-1].
func (it *interrupter) delayFor(i int) time.Duration {
	if i > 0 && i-1 < len(it.cfg.EscalationMs) {
		return time.Duration(it.cfg.EscalationMs[i-1]) * time.Millisecond
	}
	return 0
}

func signalByName(name string) os.Signal {
	switch strings.ToUpper(name) {
	case "SIGINT":
		return syscall.SIGINT
	case "SIGTERM":
		return syscall.SIGTERM
	case "SIGKILL":
		return syscall.SIGKILL
	case "SIGHUP":
		return syscall.SIGHUP
	case "SIGQUIT":
		return syscall.SIGQUIT
	default:
		return syscall.SIGINT
	}
}

func truncateCmd(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
