// Package toolbox is the action collaborator behind the command-trigger
// gate: denylisted shell execution and a system error-log reader. Results
// are logged by callers, never fed back into the memory store.
package toolbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// riskyKeywords block destructive commands outright. Matching is plain
// substring on the lowercased command line.
var riskyKeywords = []string{"format", "mkfs", "del ", "rm ", "rd ", "dd ", "/s", "/q"}

const outputLimit = 500

// Result captures one command execution, output truncated to keep it
// loggable and prompt-sized.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"returncode"`
}

// Execute runs a shell command unless it trips the denylist.
func Execute(ctx context.Context, command string) (*Result, error) {
	lower := strings.ToLower(command)
	for _, kw := range riskyKeywords {
		if strings.Contains(lower, kw) {
			return nil, fmt.Errorf("safety check failed: command contains %q", strings.TrimSpace(kw))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Stdout: truncate(stdout.String()),
		Stderr: truncate(stderr.String()),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run %q: %w", command, err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}

// LogEvent is one error-priority entry from the system journal.
type LogEvent struct {
	Source  string    `json:"source"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// ReadErrorLogs returns the most recent error-priority journal entries,
// newest last.
func ReadErrorLogs(ctx context.Context, limit int) ([]LogEvent, error) {
	if limit <= 0 {
		limit = 10
	}

	out, err := exec.CommandContext(ctx,
		"journalctl", "-p", "err", "-n", strconv.Itoa(limit), "-o", "json", "--no-pager",
	).Output()
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	var events []LogEvent
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var entry struct {
			Identifier string `json:"SYSLOG_IDENTIFIER"`
			Message    string `json:"MESSAGE"`
			Realtime   string `json:"__REALTIME_TIMESTAMP"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}

		ev := LogEvent{Source: entry.Identifier, Message: entry.Message}
		if usec, err := strconv.ParseInt(entry.Realtime, 10, 64); err == nil {
			ev.Time = time.UnixMicro(usec)
		}
		events = append(events, ev)
	}
	return events, nil
}

func truncate(s string) string {
	if len(s) > outputLimit {
		return s[:outputLimit]
	}
	return s
}
