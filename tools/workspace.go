package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"syscall"
	"time"
)

// ErrPathTraversal is returned when a path resolves outside the workspace root.
var ErrPathTraversal = errors.New("path traversal not allowed")

const (
	DefaultCommandTimeout = 2 * time.Minute
	DefaultPythonCommand  = "python3"
	DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"
	DefaultMaxResults     = 200
)

// ExecResult is the outcome of a command run by Exec.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"` // -1 when the command timed out
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// secretEnvName matches variable names withheld from child processes.
var secretEnvName = regexp.MustCompile(`(?i)_(API_KEY|SECRET|TOKEN|PASSWORD|CREDENTIAL)$`)

// keptEnv names variables passed to children even when they look secret.
var keptEnv = []string{
	"PATH", "HOME", "USER", "SHELL", "LANG", "TERM", "TMPDIR",
	"GOPATH", "GOROOT", "VIRTUAL_ENV", "PYENV_ROOT", "PYTHONPATH",
}

// childEnv builds the environment for a command run in dir: the parent's
// variables minus secrets, PWD set to dir and the workspace extras last.
func (w *Workspace) childEnv(parent []string, dir string) []string {
	var env []string
	for _, kv := range parent {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || name == "PWD" {
			continue
		}
		if secretEnvName.MatchString(name) && !slices.Contains(keptEnv, name) {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "PWD="+dir)
	for _, name := range slices.Sorted(maps.Keys(w.extraEnv)) {
		env = append(env, name+"="+w.extraEnv[name])
	}
	return env
}

// Workspace is the directory the tools operate on. Every path a tool
// receives is resolved against Root and must stay inside it.
type Workspace struct {
	root           string
	commandTimeout time.Duration
	pythonCommand  string
	searchEndpoint string
	maxResults     int
	httpClient     *http.Client
	extraEnv       map[string]string
}

// WorkspaceOption configures a Workspace.
type WorkspaceOption func(*Workspace)

// WithCommandTimeout bounds shell and pytest runs.
func WithCommandTimeout(d time.Duration) WorkspaceOption {
	return func(w *Workspace) {
		if d > 0 {
			w.commandTimeout = d
		}
	}
}

// WithPythonCommand sets the interpreter used to run pytest.
func WithPythonCommand(cmd string) WorkspaceOption {
	return func(w *Workspace) {
		if cmd != "" {
			w.pythonCommand = cmd
		}
	}
}

// WithSearchEndpoint sets the HTML search endpoint queried by web_search_tool.
func WithSearchEndpoint(endpoint string) WorkspaceOption {
	return func(w *Workspace) {
		if endpoint != "" {
			w.searchEndpoint = endpoint
		}
	}
}

// WithMaxResults caps list and search results.
func WithMaxResults(n int) WorkspaceOption {
	return func(w *Workspace) {
		if n > 0 {
			w.maxResults = n
		}
	}
}

// WithHTTPClient sets the HTTP client used for web search.
func WithHTTPClient(c *http.Client) WorkspaceOption {
	return func(w *Workspace) {
		if c != nil {
			w.httpClient = c
		}
	}
}

// WithEnv adds variables to the environment of child processes.
func WithEnv(vars map[string]string) WorkspaceOption {
	return func(w *Workspace) {
		for k, v := range vars {
			w.extraEnv[k] = v
		}
	}
}

// NewWorkspace creates a workspace rooted at root ("" means the current
// directory). The root must exist.
func NewWorkspace(root string, opts ...WorkspaceOption) (*Workspace, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("workspace: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace: %s is not a directory", root)
	}

	w := &Workspace{
		root:           resolved,
		commandTimeout: DefaultCommandTimeout,
		pythonCommand:  DefaultPythonCommand,
		searchEndpoint: DefaultSearchEndpoint,
		maxResults:     DefaultMaxResults,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		extraEnv:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// Resolve maps path to an absolute path inside the workspace. Relative paths
// are taken from the root. Symlinks of existing paths are followed before the
// containment check.
func (w *Workspace) Resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	abs := filepath.Clean(path)
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.root, abs)
	}
	if !w.contains(abs) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
	}

	if real, err := evalExisting(abs); err == nil && !w.contains(real) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
	}
	return abs, nil
}

// Rel returns abs relative to the root with forward slashes.
func (w *Workspace) Rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func (w *Workspace) contains(abs string) bool {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// evalExisting resolves symlinks in the longest existing prefix of path.
func evalExisting(path string) (string, error) {
	current := path
	var rest []string
	for {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(append([]string{real}, rest...)...), nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		rest = append([]string{filepath.Base(current)}, rest...)
		current = parent
	}
}

// Exec runs name with args in dir (the root when empty) under the workspace
// command timeout. A non-zero exit is reported in the result, not as an error.
func (w *Workspace) Exec(ctx context.Context, dir string, name string, args ...string) (*ExecResult, error) {
	if dir == "" {
		dir = w.root
	}
	if w.commandTimeout > 0 {
		timed, cancel := context.WithTimeout(ctx, w.commandTimeout)
		defer cancel()
		ctx = timed
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	cmd.Env = w.childEnv(os.Environ(), dir)

	var out, errOut bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &errOut

	started := time.Now()
	runErr := cmd.Run()
	res := &ExecResult{DurationMs: time.Since(started).Milliseconds()}
	res.Stdout, res.Stderr = out.String(), errOut.String()

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut, res.ExitCode = true, -1
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("exec %s: %w", name, runErr)
	}
	return res, nil
}

// Shell runs command through the system shell.
func (w *Workspace) Shell(ctx context.Context, command string) (*ExecResult, error) {
	shell := "/bin/bash"
	if _, err := os.Stat(shell); err != nil {
		shell = "/bin/sh"
	}
	return w.Exec(ctx, "", shell, "-c", command)
}
