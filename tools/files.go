package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/martinemde/sourceagent/agentloop"
	ignore "github.com/sabhiram/go-gitignore"
)

const binarySniffBytes = 8000

func (w *Workspace) fileReadTool() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: definition(FileReadToolName,
			"Read the full text content of a file inside the workspace.",
			schema(map[string]any{
				"path": prop("string", "Path of the file to read, relative to the workspace root."),
			}, "path"),
		),
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			p := stringArg(args, "path", "")
			abs, err := w.Resolve(p)
			if err != nil {
				return pathFailure(err, p), nil
			}
			info, err := os.Stat(abs)
			if errors.Is(err, fs.ErrNotExist) {
				return failure("File not found: %s", p), nil
			}
			if err != nil {
				return failure("Failed to read %s: %v", p, err), nil
			}
			if info.IsDir() {
				return failure("Not a file: %s", p), nil
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				return failure("Failed to read %s: %v", p, err), nil
			}
			return success(map[string]any{
				"path":    w.Rel(abs),
				"content": TruncateToolOutput(string(data), FileReadToolName),
			}), nil
		},
	}
}

func (w *Workspace) fileWriteTool() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: definition(FileWriteToolName,
			"Write content to a file, creating it and any parent directories. Existing files are overwritten.",
			schema(map[string]any{
				"path":    prop("string", "Path of the file to write, relative to the workspace root."),
				"content": prop("string", "The full file content to write."),
			}, "path", "content"),
		),
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			p := stringArg(args, "path", "")
			content, _ := agentloop.GetStringArg(args, "content")
			abs, err := w.Resolve(p)
			if err != nil {
				return pathFailure(err, p), nil
			}
			if abs == w.root {
				return failure("Not a file: %s", p), nil
			}
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return failure("Failed to create directory for %s: %v", p, err), nil
			}
			if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
				return failure("Failed to write %s: %v", p, err), nil
			}
			return success(map[string]any{
				"path":    w.Rel(abs),
				"message": fmt.Sprintf("Wrote %d bytes to %s", len(content), w.Rel(abs)),
			}), nil
		},
	}
}

func (w *Workspace) fileDeleteTool() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: definition(FileDeleteToolName,
			"Delete a single file inside the workspace.",
			schema(map[string]any{
				"path": prop("string", "Path of the file to delete."),
			}, "path"),
		),
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			p := stringArg(args, "path", "")
			abs, err := w.Resolve(p)
			if err != nil {
				return pathFailure(err, p), nil
			}
			info, err := os.Lstat(abs)
			if errors.Is(err, fs.ErrNotExist) {
				return failure("File not found: %s", p), nil
			}
			if err != nil {
				return failure("Failed to delete %s: %v", p, err), nil
			}
			if info.IsDir() {
				return failure("Not a file: %s", p), nil
			}
			if err := os.Remove(abs); err != nil {
				return failure("Failed to delete %s: %v", p, err), nil
			}
			return success(map[string]any{"path": w.Rel(abs), "message": "Deleted " + w.Rel(abs)}), nil
		},
	}
}

func (w *Workspace) directoryCreateTool() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: definition(DirectoryCreateToolName,
			"Create a directory, including any missing parents.",
			schema(map[string]any{
				"path": prop("string", "Path of the directory to create."),
			}, "path"),
		),
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			p := stringArg(args, "path", "")
			abs, err := w.Resolve(p)
			if err != nil {
				return pathFailure(err, p), nil
			}
			if info, err := os.Stat(abs); err == nil && !info.IsDir() {
				return failure("Not a directory: %s", p), nil
			}
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return failure("Failed to create directory %s: %v", p, err), nil
			}
			return success(map[string]any{"path": w.Rel(abs), "message": "Created directory " + w.Rel(abs)}), nil
		},
	}
}

func (w *Workspace) directoryDeleteTool() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: definition(DirectoryDeleteToolName,
			"Delete a directory. Without recursive the directory must be empty.",
			schema(map[string]any{
				"path":      prop("string", "Path of the directory to delete."),
				"recursive": prop("boolean", "Delete the directory and everything in it. Default: false."),
			}, "path"),
		),
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			p := stringArg(args, "path", "")
			recursive := boolArg(args, "recursive", false)
			abs, err := w.Resolve(p)
			if err != nil {
				return pathFailure(err, p), nil
			}
			if abs == w.root {
				return failure("Refusing to delete the workspace root"), nil
			}
			info, err := os.Lstat(abs)
			if errors.Is(err, fs.ErrNotExist) {
				return failure("Path not found: %s", p), nil
			}
			if err != nil {
				return failure("Failed to delete %s: %v", p, err), nil
			}
			if !info.IsDir() {
				return failure("Not a directory: %s", p), nil
			}
			if recursive {
				err = os.RemoveAll(abs)
			} else {
				err = os.Remove(abs)
			}
			if err != nil {
				return failure("Failed to delete directory %s: %v", p, err), nil
			}
			return success(map[string]any{"path": w.Rel(abs), "message": "Deleted directory " + w.Rel(abs)}), nil
		},
	}
}

func (w *Workspace) fileListTool() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: definition(FileListToolName,
			"List files and directories in a given path, respecting .gitignore if present.",
			schema(map[string]any{
				"path":      prop("string", "Directory to list. Default: the workspace root."),
				"recursive": prop("boolean", "List recursively. Default: false."),
			}),
		),
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			p := stringArg(args, "path", ".")
			recursive := boolArg(args, "recursive", false)
			abs, err := w.Resolve(p)
			if err != nil {
				return pathFailure(err, p), nil
			}
			info, err := os.Stat(abs)
			if err != nil {
				return failure("Path not found: %s", p), nil
			}
			if !info.IsDir() {
				return failure("Not a directory: %s", p), nil
			}

			gi := w.gitignore()
			var items []string
			if recursive {
				err = w.walk(ctx, abs, gi, func(rel string, d fs.DirEntry) bool {
					if d.IsDir() {
						rel += "/"
					}
					items = append(items, rel)
					return len(items) <= w.maxResults
				})
			} else {
				var entries []os.DirEntry
				entries, err = os.ReadDir(abs)
				for _, e := range entries {
					rel := w.Rel(filepath.Join(abs, e.Name()))
					if e.Name() == ".git" || ignored(gi, rel, e.IsDir()) {
						continue
					}
					if e.IsDir() {
						rel += "/"
					}
					items = append(items, rel)
				}
			}
			if err != nil {
				return failure("Failed to list %s: %v", p, err), nil
			}

			// One entry past the cap is collected to tell a full page from a cut one.
			truncated := len(items) > w.maxResults
			if truncated {
				items = items[:w.maxResults]
			}
			sort.Strings(items)
			return success(map[string]any{"files": items, "truncated": truncated}), nil
		},
	}
}

func (w *Workspace) fileSearchTool() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: definition(FileSearchToolName,
			"Find files by name glob (supports **) and optionally search their contents for plain text. "+
				"Content matches are returned as path:line:text.",
			schema(map[string]any{
				"name":        prop("string", "Glob matched against file names, or against paths when it contains a slash. Default: *."),
				"pattern":     prop("string", "Plain text to search for inside matching files."),
				"path":        prop("string", "Directory to search from. Default: the workspace root."),
				"ignore_case": prop("boolean", "Case-insensitive content search. Default: true."),
			}),
		),
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			name := stringArg(args, "name", "*")
			pattern, _ := agentloop.GetStringArg(args, "pattern")
			p := stringArg(args, "path", ".")
			ignoreCase := boolArg(args, "ignore_case", true)

			if !doublestar.ValidatePattern(name) {
				return failure("Invalid name pattern: %s", name), nil
			}
			abs, err := w.Resolve(p)
			if err != nil {
				return pathFailure(err, p), nil
			}
			if info, err := os.Stat(abs); err != nil {
				return failure("Path not found: %s", p), nil
			} else if !info.IsDir() {
				return failure("Not a directory: %s", p), nil
			}

			match := buildPlainTextMatcher(pattern, ignoreCase)
			var hits []string
			err = w.walk(ctx, abs, w.gitignore(), func(rel string, d fs.DirEntry) bool {
				if d.IsDir() || !nameMatches(name, rel) {
					return true
				}
				if pattern == "" {
					hits = append(hits, rel)
					return len(hits) <= w.maxResults
				}
				return w.grepFile(rel, match, &hits)
			})
			if err != nil {
				return failure("Search failed: %v", err), nil
			}
			truncated := len(hits) > w.maxResults
			if truncated {
				hits = hits[:w.maxResults]
			}
			return success(map[string]any{"content": hits, "truncated": truncated}), nil
		},
	}
}

// grepFile appends path:line:text hits for rel and reports whether the
// search should continue.
func (w *Workspace) grepFile(rel string, match func(string) bool, hits *[]string) bool {
	data, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(rel)))
	if err != nil || bytes.IndexByte(data[:min(len(data), binarySniffBytes)], 0) >= 0 {
		return true
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if match(text) {
			*hits = append(*hits, rel+":"+strconv.Itoa(line)+":"+strings.TrimSpace(text))
			if len(*hits) > w.maxResults {
				return false
			}
		}
	}
	return true
}

func buildPlainTextMatcher(pattern string, ignoreCase bool) func(string) bool {
	if ignoreCase {
		lower := strings.ToLower(pattern)
		return func(s string) bool { return strings.Contains(strings.ToLower(s), lower) }
	}
	return func(s string) bool { return strings.Contains(s, pattern) }
}

func nameMatches(glob, rel string) bool {
	target := rel
	if !strings.Contains(glob, "/") {
		target = path.Base(rel)
	}
	ok, err := doublestar.Match(glob, target)
	return err == nil && ok
}

// gitignore loads the workspace root .gitignore, if any.
func (w *Workspace) gitignore() *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(w.root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}

func ignored(gi *ignore.GitIgnore, rel string, isDir bool) bool {
	if gi == nil {
		return false
	}
	if isDir && gi.MatchesPath(rel+"/") {
		return true
	}
	return gi.MatchesPath(rel)
}

// walk visits every entry below dir that is not ignored, passing its path
// relative to the root. visit returns false to stop the walk.
func (w *Workspace) walk(ctx context.Context, dir string, gi *ignore.GitIgnore, visit func(rel string, d fs.DirEntry) bool) error {
	stop := errors.New("stop")
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p == dir {
			return nil
		}
		rel := w.Rel(p)
		if d.Name() == ".git" || ignored(gi, rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !visit(rel, d) {
			return stop
		}
		return nil
	})
	if errors.Is(err, stop) {
		return nil
	}
	return err
}
