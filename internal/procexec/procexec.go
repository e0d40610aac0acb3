// Package procexec is an asynchronous local subprocess manager: it runs
// shell commands rooted inside a workspace directory, shapes their
// output, and offers paginated readback of logs by command id.
//
// Modeled on the Python AsyncProcessExecutor this system grew from:
// blocking run_command, detached run_background, LRU+TTL log retention,
// and a security gate applied before every launch.
package procexec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Config tunes an Executor. Zero values fall back to the documented
// defaults.
type Config struct {
	Root               string        // workspace root commands are confined to
	Timeout            time.Duration // default per-call wall clock timeout
	DefaultTailLines   int           // lines shown on failure (default 40)
	MaxPaginationCalls int           // read_log calls allowed per cmd_id (default 3)
	MaxLogEntries      int           // CommandLog retention capacity (default 50)
	LogTTL             time.Duration // CommandLog retention TTL (default 30m)
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.DefaultTailLines <= 0 {
		c.DefaultTailLines = 40
	}
	if c.MaxPaginationCalls <= 0 {
		c.MaxPaginationCalls = 3
	}
	if c.MaxLogEntries <= 0 {
		c.MaxLogEntries = 50
	}
	if c.LogTTL <= 0 {
		c.LogTTL = 30 * time.Minute
	}
}

// Executor runs commands rooted at Config.Root.
type Executor struct {
	cfg  Config
	logs *logStore
}

// New creates an Executor. Root must already exist.
func New(cfg Config) (*Executor, error) {
	cfg.setDefaults()
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("root path does not exist: %w", err)
	}
	cfg.Root = root

	return &Executor{
		cfg:  cfg,
		logs: newLogStore(cfg.MaxLogEntries, cfg.LogTTL),
	}, nil
}

// RunResult is returned by RunCommand.
type RunResult struct {
	CmdID      string
	ExitCode   int
	Status     string
	Output     string
	TotalLines int
	Hint       string
	Error      string // set instead of running anything, e.g. security rejection
}

// RunCommand runs cmd to completion or until timeout elapses.
func (e *Executor) RunCommand(ctx context.Context, cmd, cwd string, timeout time.Duration, confirmed, verbose bool) (*RunResult, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return &RunResult{Error: "empty command"}, nil
	}
	if isBlocked(cmd) {
		return &RunResult{Error: "BLOCKED: command matches security blocklist"}, nil
	}
	if needsConfirm(cmd) && !confirmed {
		return &RunResult{Error: fmt.Sprintf("CONFIRMATION REQUIRED: command %q requires confirmed=true", cmd)}, nil
	}

	effectiveCwd, err := e.resolveCwd(cwd)
	if err != nil {
		return &RunResult{Error: err.Error()}, nil
	}

	log := &CommandLog{
		CmdID:     newCmdID(),
		Command:   cmd,
		Cwd:       effectiveCwd,
		StartedAt: time.Now(),
		IsRunning: true,
	}
	e.logs.store(log)

	effectiveTimeout := timeout
	if effectiveTimeout <= 0 {
		effectiveTimeout = e.cfg.Timeout
	}

	runCtx, cancel := context.WithTimeout(ctx, effectiveTimeout)
	defer cancel()

	c := exec.CommandContext(runCtx, "/bin/sh", "-c", cmd)
	c.Dir = effectiveCwd
	c.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	runErr := c.Run()
	now := time.Now()
	log.CompletedAt = &now
	log.IsRunning = false

	if runCtx.Err() == context.DeadlineExceeded {
		log.ExitCode = intPtr(-1)
		log.StderrLines = []string{fmt.Sprintf("TIMEOUT: command exceeded %s", effectiveTimeout)}
		return e.formatOutput(log, false), nil
	}

	log.StdoutLines = splitLines(stdout.String())
	log.StderrLines = splitLines(stderr.String())

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			log.ExitCode = &code
		} else {
			log.ExitCode = intPtr(-1)
			log.StderrLines = append(log.StderrLines, fmt.Sprintf("ERROR: %v", runErr))
		}
	} else {
		log.ExitCode = intPtr(0)
	}

	return e.formatOutput(log, verbose), nil
}

// BackgroundResult is returned by RunBackground.
type BackgroundResult struct {
	CmdID         string
	Status        string
	InitialOutput string
	LinesCaptured int
	URL           string
	Hint          string
	Error         string
}

// RunBackground launches cmd detached, collects output for the full
// waitForOutput (default 2s), and returns while the process keeps running.
// Before launching, it kills any running background process whose first
// three whitespace-delimited tokens match cmd's (peer deduplication).
func (e *Executor) RunBackground(ctx context.Context, cmd, cwd string, waitForOutput time.Duration) (*BackgroundResult, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return &BackgroundResult{Error: "empty command"}, nil
	}
	if isBlocked(cmd) {
		return &BackgroundResult{Error: "BLOCKED: command matches security blocklist"}, nil
	}

	effectiveCwd, err := e.resolveCwd(cwd)
	if err != nil {
		return &BackgroundResult{Error: err.Error()}, nil
	}

	if waitForOutput <= 0 {
		waitForOutput = 2 * time.Second
	}

	e.killPeers(cmd)

	log := &CommandLog{
		CmdID:     newCmdID(),
		Command:   cmd,
		Cwd:       effectiveCwd,
		StartedAt: time.Now(),
		IsRunning: true,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := exec.CommandContext(runCtx, "/bin/sh", "-c", cmd)
	c.Dir = effectiveCwd
	c.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	stdout, err := c.StdoutPipe()
	if err != nil {
		cancel()
		return &BackgroundResult{Error: err.Error()}, nil
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		cancel()
		return &BackgroundResult{Error: err.Error()}, nil
	}

	if err := c.Start(); err != nil {
		cancel()
		return &BackgroundResult{Error: err.Error()}, nil
	}

	log.cmd = c
	log.cancel = cancel
	log.done = make(chan struct{})
	e.logs.store(log)

	go e.drainBackground(log, stdout, stderr)

	time.Sleep(waitForOutput)

	log.mu.Lock()
	initial := strings.Join(append(append([]string{}, log.StdoutLines...), log.StderrLines...), "")
	linesCaptured := len(log.StdoutLines) + len(log.StderrLines)
	log.mu.Unlock()

	url := detectURL(initial)

	result := &BackgroundResult{
		CmdID:         log.CmdID,
		Status:        "running",
		InitialOutput: strings.TrimSpace(initial),
		LinesCaptured: linesCaptured,
		URL:           url,
		Hint:          fmt.Sprintf("Process is running in the background. Use read_log(%q) to see more output.", log.CmdID),
	}
	return result, nil
}

func (e *Executor) drainBackground(log *CommandLog, stdout, stderr io.ReadCloser) {
	var wg sync.WaitGroup
	wg.Add(2)

	read := func(r io.ReadCloser, isStderr bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text() + "\n"
			log.mu.Lock()
			if isStderr {
				log.StderrLines = append(log.StderrLines, line)
			} else {
				log.StdoutLines = append(log.StdoutLines, line)
			}
			log.mu.Unlock()
		}
	}

	go read(stdout, false)
	go read(stderr, true)
	wg.Wait()

	log.mu.Lock()
	defer log.mu.Unlock()
	if log.cmd != nil {
		log.cmd.Wait()
		log.ExitCode = intPtr(log.cmd.ProcessState.ExitCode())
	}
	now := time.Now()
	log.CompletedAt = &now
	log.IsRunning = false
	close(log.done)
}

// ReadLogResult is returned by ReadLog.
type ReadLogResult struct {
	Lines               []string
	Showing             string
	TotalLines          int
	IsRunning           bool
	PaginationRemaining int
	Prev                *int
	Next                *int
	Error               string
}

// ReadLog returns a paginated, bounded view of a command's output.
func (e *Executor) ReadLog(cmdID string, offset, limit int, fromEnd bool) (*ReadLogResult, error) {
	log, ok := e.logs.get(cmdID)
	if !ok {
		return &ReadLogResult{Error: fmt.Sprintf("no such command: %s", cmdID)}, nil
	}

	log.mu.Lock()
	defer log.mu.Unlock()

	if log.PaginationCount >= e.cfg.MaxPaginationCalls {
		return &ReadLogResult{Error: fmt.Sprintf("pagination limit (%d) exceeded for %s", e.cfg.MaxPaginationCalls, cmdID)}, nil
	}
	log.PaginationCount++

	if limit <= 0 {
		limit = 100
	}
	all := append(append([]string{}, log.StdoutLines...), log.StderrLines...)
	total := len(all)

	start := offset
	if fromEnd {
		start = total - limit - offset
	}
	if start < 0 {
		start = 0
	}
	end := start + limit
	if end > total {
		end = total
	}
	if start > end {
		start = end
	}

	var prev, next *int
	if start > 0 {
		p := start - limit
		if p < 0 {
			p = 0
		}
		prev = &p
	}
	if end < total {
		n := end
		next = &n
	}

	return &ReadLogResult{
		Lines:               all[start:end],
		Showing:             fmt.Sprintf("%s of %s lines", humanize.Comma(int64(end-start)), humanize.Comma(int64(total))),
		TotalLines:          total,
		IsRunning:           log.IsRunning,
		PaginationRemaining: e.cfg.MaxPaginationCalls - log.PaginationCount,
		Prev:                prev,
		Next:                next,
	}, nil
}

// TerminateResult is returned by Terminate.
type TerminateResult struct {
	Status   string
	ExitCode int
	Error    string
}

// Terminate sends a graceful signal to a running process, then forcefully
// kills it after a short grace period.
func (e *Executor) Terminate(cmdID string) (*TerminateResult, error) {
	log, ok := e.logs.get(cmdID)
	if !ok {
		return &TerminateResult{Error: fmt.Sprintf("no such command: %s", cmdID)}, nil
	}

	log.mu.Lock()
	running := log.IsRunning
	cmd := log.cmd
	log.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		return &TerminateResult{Status: "completed", ExitCode: log.exitCodeOrDefault(-1)}, nil
	}

	cmd.Process.Signal(os.Interrupt)

	select {
	case <-log.done:
	case <-time.After(3 * time.Second):
		cmd.Process.Kill()
		<-log.done
	}

	return &TerminateResult{Status: "completed", ExitCode: log.exitCodeOrDefault(-1)}, nil
}

// CleanupResult is returned by CleanupAll.
type CleanupResult struct {
	TerminatedCount int
	Processes       []string
}

// CleanupAll terminates every still-running background process.
func (e *Executor) CleanupAll() *CleanupResult {
	ids := e.logs.runningIDs()
	result := &CleanupResult{}
	for _, id := range ids {
		if _, err := e.Terminate(id); err == nil {
			result.TerminatedCount++
			result.Processes = append(result.Processes, id)
		}
	}
	return result
}

// CommandSummary is a compact, most-recent-first listing entry.
type CommandSummary struct {
	CmdID     string
	Command   string
	IsRunning bool
	ExitCode  *int
	StartedAt time.Time
}

// ListCommands returns up to limit commands, most recently started first.
func (e *Executor) ListCommands(limit int) []CommandSummary {
	return e.logs.summaries(limit)
}

// --- helpers ---

func (e *Executor) resolveCwd(cwd string) (string, error) {
	if cwd == "" {
		return e.cfg.Root, nil
	}
	var abs string
	if filepath.IsAbs(cwd) {
		abs = filepath.Clean(cwd)
	} else {
		abs = filepath.Clean(filepath.Join(e.cfg.Root, cwd))
	}
	rel, err := filepath.Rel(e.cfg.Root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cwd outside root (%s): %s", e.cfg.Root, cwd)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("cwd does not exist: %s", cwd)
	}
	return abs, nil
}

// killPeers terminates the existing running background process whose
// command shares the first three whitespace-delimited tokens with cmd.
func (e *Executor) killPeers(cmd string) {
	tokens := peerTokens(cmd)
	for _, id := range e.logs.runningIDs() {
		log, ok := e.logs.get(id)
		if !ok {
			continue
		}
		if peerTokens(log.Command) == tokens {
			e.Terminate(id)
		}
	}
}

func peerTokens(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) > 3 {
		fields = fields[:3]
	}
	return strings.Join(fields, " ")
}

func newCmdID() string {
	return uuid.NewString()[:8]
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func intPtr(v int) *int { return &v }
