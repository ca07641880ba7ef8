package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const maxListedFiles = 500

// Workspace gives file tools access to one workspace directory.
// Every path is resolved relative to Root and may not escape it.
type Workspace struct {
	Root string
}

func (w *Workspace) resolve(rel string) (string, error) {
	if rel == "" {
		return "", errors.New("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", errors.Wrapf(ErrPathOutsideWorkspace, "%s", rel)
	}
	full := filepath.Join(w.Root, filepath.FromSlash(rel))
	inside, err := filepath.Rel(w.Root, full)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrPathOutsideWorkspace, "%s", rel)
	}
	return full, nil
}

// Tools returns the file-editing tools bound to this workspace.
func (w *Workspace) Tools() []Tool {
	return []Tool{
		NewNativeTool("list_files", "List the files of the website workspace.", w.listFiles, map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}),
		NewNativeTool("read_file", "Read a file of the workspace.", w.readFile, map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Path relative to the workspace root."},
			},
			"required": []string{"path"},
		}),
		NewNativeTool("write_file", "Create or overwrite a file of the workspace.", w.writeFile, map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "Path relative to the workspace root."},
				"content": map[string]any{"type": "string", "description": "Full new file content."},
			},
			"required": []string{"path", "content"},
		}),
		NewNativeTool("replace_in_file", "Replace the first occurrence of a text snippet in a file.", w.replaceInFile, map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "Path relative to the workspace root."},
				"search":  map[string]any{"type": "string", "description": "Exact text to find."},
				"replace": map[string]any{"type": "string", "description": "Replacement text."},
			},
			"required": []string{"path", "search", "replace"},
		}),
	}
}

func (w *Workspace) listFiles(ctx context.Context, _ string) (string, error) {
	var files []string
	err := filepath.WalkDir(w.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != w.Root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(w.Root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		if len(files) >= maxListedFiles {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to list workspace files")
	}
	sort.Strings(files)
	if len(files) == 0 {
		return "(workspace is empty)", nil
	}
	return strings.Join(files, "\n"), nil
}

func (w *Workspace) readFile(_ context.Context, input string) (string, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", errors.Wrap(err, "invalid arguments")
	}
	full, err := w.resolve(args.Path)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", args.Path)
	}
	return string(content), nil
}

func (w *Workspace) writeFile(_ context.Context, input string) (string, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", errors.Wrap(err, "invalid arguments")
	}
	full, err := w.resolve(args.Path)
	if err != nil {
		return "", err
	}

	previous, err := os.ReadFile(full)
	if err != nil && !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "failed to read %s", args.Path)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create directory for %s", args.Path)
	}
	if err := os.WriteFile(full, []byte(args.Content), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", args.Path)
	}
	return describeChange(args.Path, string(previous), args.Content), nil
}

func (w *Workspace) replaceInFile(_ context.Context, input string) (string, error) {
	var args struct {
		Path    string `json:"path"`
		Search  string `json:"search"`
		Replace string `json:"replace"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", errors.Wrap(err, "invalid arguments")
	}
	if args.Search == "" {
		return "", errors.New("search text is required")
	}
	full, err := w.resolve(args.Path)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", args.Path)
	}
	before := string(content)
	if !strings.Contains(before, args.Search) {
		return "", errors.Errorf("search text not found in %s", args.Path)
	}
	after := strings.Replace(before, args.Search, args.Replace, 1)
	if err := os.WriteFile(full, []byte(after), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", args.Path)
	}
	return describeChange(args.Path, before, after), nil
}

// describeChange renders a patch of the edit for the tool result.
func describeChange(path, before, after string) string {
	if before == after {
		return fmt.Sprintf("%s unchanged", path)
	}
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(before, after)
	return fmt.Sprintf("updated %s\n%s", path, dmp.PatchToText(patches))
}
