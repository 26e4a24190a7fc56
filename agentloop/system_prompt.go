package agentloop

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"
)

// ProjectDocName is the instruction file loaded into the system prompt.
const ProjectDocName = "AGENTS.md"

// projectDocBudget caps the combined size of every AGENTS.md that is loaded.
const projectDocBudget = 32 << 10

const projectDocCut = "[Project instructions truncated at 32KB]"

// gitProbeTimeout bounds each git invocation made while building the prompt.
const gitProbeTimeout = 2 * time.Second

// DefaultSystemPrompt is used when no AGENTS.md is found.
const DefaultSystemPrompt = `You are a helpful code assistant working inside a local repository.
Use the available tools to inspect files, run commands and gather facts before answering.
Think step-by-step. When the task is done, call task_mark_complete.`

// repoInfo is what the prompt says about the directory a session runs in.
type repoInfo struct {
	dir     string
	root    string // git top level, empty outside a repository
	branch  string
	dirty   int
	commits string
}

func inspectRepo(dir string) repoInfo {
	info := repoInfo{dir: dir}
	info.root = strings.TrimSpace(git(dir, "rev-parse", "--show-toplevel"))
	if info.root == "" {
		return info
	}
	info.branch = strings.TrimSpace(git(info.root, "rev-parse", "--abbrev-ref", "HEAD"))
	if status := strings.TrimSpace(git(info.root, "status", "--short")); status != "" {
		info.dirty = strings.Count(status, "\n") + 1
	}
	info.commits = strings.TrimSpace(git(info.root, "log", "--oneline", "-10"))
	return info
}

// git runs a git subcommand in dir and returns its stdout, or "" on any failure.
func git(dir string, args ...string) string {
	ctx, cancel := context.WithTimeout(context.Background(), gitProbeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}

// BuildSystemPrompt assembles the system prompt for a session rooted at
// workingDir: project instructions (or DefaultSystemPrompt), git state and an
// environment block.
func BuildSystemPrompt(workingDir, model string) string {
	info := inspectRepo(workingDir)

	instructions := loadProjectDocs(info)
	if instructions == "" {
		instructions = DefaultSystemPrompt
	}
	sections := []string{instructions}
	if info.root != "" {
		sections = append(sections, info.gitSection())
	}
	sections = append(sections, info.environmentSection(model))
	return strings.Join(sections, "\n\n")
}

// DiscoverProjectDocs returns the AGENTS.md files that apply to workingDir,
// outermost first.
func DiscoverProjectDocs(workingDir string) string {
	return loadProjectDocs(inspectRepo(workingDir))
}

func loadProjectDocs(info repoInfo) string {
	var docs []string
	budget := projectDocBudget
	for _, dir := range docDirs(info.root, info.dir) {
		data, err := os.ReadFile(filepath.Join(dir, ProjectDocName))
		if err != nil {
			continue
		}
		if budget <= 0 {
			docs = append(docs, projectDocCut)
			break
		}
		text := string(data)
		if len(text) > budget {
			text = text[:budget] + "\n" + projectDocCut
		}
		budget -= len(text)
		docs = append(docs, text)
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// docDirs lists the directories from root down to dir. Without a root, or
// when dir is not below it, only dir is searched.
func docDirs(root, dir string) []string {
	dir = filepath.Clean(dir)
	if root == "" {
		return []string{dir}
	}
	root = filepath.Clean(root)
	if rel, err := filepath.Rel(root, dir); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return []string{dir}
	}

	var dirs []string
	for d := dir; ; d = filepath.Dir(d) {
		dirs = append(dirs, d)
		if d == root || d == filepath.Dir(d) {
			break
		}
	}
	slices.Reverse(dirs)
	return dirs
}

func (r repoInfo) gitSection() string {
	var b strings.Builder
	b.WriteString("<git_context>\n")
	if r.branch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", r.branch)
	}
	if r.dirty > 0 {
		fmt.Fprintf(&b, "Modified/untracked files: %d\n", r.dirty)
	}
	if r.commits != "" {
		fmt.Fprintf(&b, "Recent commits:\n%s\n", r.commits)
	}
	b.WriteString("</git_context>")
	return b.String()
}

func (r repoInfo) environmentSection(model string) string {
	lines := []string{
		"<environment>",
		"Working directory: " + r.dir,
		fmt.Sprintf("Is git repository: %t", r.root != ""),
	}
	if r.branch != "" {
		lines = append(lines, "Git branch: "+r.branch)
	}
	lines = append(lines,
		fmt.Sprintf("Platform: %s/%s", runtime.GOOS, runtime.GOARCH),
		"Today's date: "+time.Now().Format(time.DateOnly),
	)
	if model != "" {
		lines = append(lines, "Model: "+model)
	}
	lines = append(lines, "</environment>")
	return strings.Join(lines, "\n")
}
