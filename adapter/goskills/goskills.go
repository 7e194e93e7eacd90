// Package goskills adapts github.com/smallnest/goskills skill packages into
// langchaingo tools so capi_desktop can expose sandboxed file and shell
// operations to the agent graph.
package goskills

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"context"

	"github.com/smallnest/goskills"
	"github.com/tmc/langchaingo/tools"
)

var _ tools.Tool = (*SkillTool)(nil)

// SkillTool wraps a single named skill operation as a langchaingo tool.
// The zero value is usable; skillPath anchors relative file paths and
// scriptMap resolves custom_script names to on-disk script files.
type SkillTool struct {
	name        string
	description string
	skillPath   string
	scriptMap   map[string]string
}

// NewSkillTool constructs a SkillTool bound to skillPath for resolving
// relative file operations.
func NewSkillTool(name, description, skillPath string) *SkillTool {
	return &SkillTool{name: name, description: description, skillPath: skillPath}
}

// Name implements tools.Tool.
func (t *SkillTool) Name() string { return t.name }

// Description implements tools.Tool.
func (t *SkillTool) Description() string { return t.description }

// Call implements tools.Tool, dispatching on the tool's name.
func (t *SkillTool) Call(ctx context.Context, input string) (string, error) {
	switch t.name {
	case "run_shell_code":
		return t.runShellCode(ctx, input)
	case "run_shell_script":
		return t.runShellScript(ctx, input)
	case "run_python_code":
		return t.runPythonCode(ctx, input)
	case "run_python_script":
		return t.runPythonScript(ctx, input)
	case "read_file":
		return t.readFile(input)
	case "write_file":
		return t.writeFile(input)
	case "file_operations":
		return t.fileOperations(input)
	case "duckduckgo_search", "web_search":
		return t.webSearch(ctx, input)
	case "custom_script":
		return t.customScript(ctx, input)
	default:
		return "", fmt.Errorf("unknown tool: %s", t.name)
	}
}

func (t *SkillTool) resolvePath(p string) string {
	if filepath.IsAbs(p) || t.skillPath == "" {
		return p
	}
	return filepath.Join(t.skillPath, p)
}

func (t *SkillTool) runShellCode(ctx context.Context, input string) (string, error) {
	var params struct {
		Code string            `json:"code"`
		Args map[string]string `json:"args"`
	}
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return "", fmt.Errorf("failed to unmarshal run_shell_code input: %w", err)
	}
	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", params.Code)
	for k, v := range params.Args {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("run_shell_code failed: %w", err)
	}
	return out.String(), nil
}

func (t *SkillTool) runShellScript(ctx context.Context, input string) (string, error) {
	var params struct {
		ScriptPath string   `json:"scriptPath"`
		Args       []string `json:"args"`
	}
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return "", fmt.Errorf("failed to unmarshal run_shell_script input: %w", err)
	}
	cmd := exec.CommandContext(ctx, "/bin/bash", append([]string{t.resolvePath(params.ScriptPath)}, params.Args...)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("run_shell_script failed: %w", err)
	}
	return out.String(), nil
}

func (t *SkillTool) runPythonCode(ctx context.Context, input string) (string, error) {
	var params struct {
		Code    string   `json:"code"`
		Imports []string `json:"imports"`
	}
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return "", fmt.Errorf("failed to unmarshal run_python_code input: %w", err)
	}
	python := pythonBinary()
	if python == "" {
		return "", fmt.Errorf("run_python_code failed: no python interpreter found")
	}
	cmd := exec.CommandContext(ctx, python, "-c", params.Code)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("run_python_code failed: %w", err)
	}
	return out.String(), nil
}

func (t *SkillTool) runPythonScript(ctx context.Context, input string) (string, error) {
	var params struct {
		ScriptPath string   `json:"scriptPath"`
		Args       []string `json:"args"`
	}
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return "", fmt.Errorf("failed to unmarshal run_python_script input: %w", err)
	}
	python := pythonBinary()
	if python == "" {
		return "", fmt.Errorf("run_python_script failed: no python interpreter found")
	}
	cmd := exec.CommandContext(ctx, python, append([]string{t.resolvePath(params.ScriptPath)}, params.Args...)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("run_python_script failed: %w", err)
	}
	return out.String(), nil
}

func pythonBinary() string {
	for _, candidate := range []string{"/usr/bin/python3", "/usr/bin/python"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func (t *SkillTool) readFile(input string) (string, error) {
	var params struct {
		FilePath string `json:"filePath"`
	}
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return "", fmt.Errorf("failed to unmarshal read_file input: %w", err)
	}
	data, err := os.ReadFile(t.resolvePath(params.FilePath))
	if err != nil {
		return "", fmt.Errorf("read_file failed: %w", err)
	}
	return string(data), nil
}

func (t *SkillTool) writeFile(input string) (string, error) {
	var params struct {
		FilePath string `json:"filePath"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return "", fmt.Errorf("failed to unmarshal write_file input: %w", err)
	}
	path := t.resolvePath(params.FilePath)
	if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
		return "", fmt.Errorf("write_file failed: %w", err)
	}
	return fmt.Sprintf("Successfully wrote to file %s", path), nil
}

func (t *SkillTool) fileOperations(input string) (string, error) {
	var params struct {
		Action  string `json:"action"`
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return "", fmt.Errorf("failed to unmarshal file_operations input: %w", err)
	}
	switch params.Action {
	case "read":
		return t.readFile(fmt.Sprintf(`{"filePath": %q}`, params.Path))
	case "write":
		return t.writeFile(fmt.Sprintf(`{"filePath": %q, "content": %q}`, params.Path, params.Content))
	default:
		return "", fmt.Errorf("file_operations: unknown action %q", params.Action)
	}
}

func (t *SkillTool) webSearch(ctx context.Context, input string) (string, error) {
	var params struct {
		Query      string `json:"query"`
		NumResults int    `json:"num_results"`
	}
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		return "", fmt.Errorf("failed to unmarshal web_search input: %w", err)
	}
	return "", fmt.Errorf("web_search: no search backend configured for query %q", params.Query)
}

func (t *SkillTool) customScript(ctx context.Context, input string) (string, error) {
	script, ok := t.scriptMap[t.name]
	if !ok {
		return "", fmt.Errorf("custom_script: no script registered for %s", t.name)
	}
	var params struct {
		Args []string `json:"args"`
	}
	if input != "" {
		if err := json.Unmarshal([]byte(input), &params); err != nil {
			return "", fmt.Errorf("failed to unmarshal custom_script input: %w", err)
		}
	}
	cmd := exec.CommandContext(ctx, script, params.Args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("custom_script failed: %w", err)
	}
	return out.String(), nil
}

// SkillsToTools returns the baseline tool set run_shell_code/read_file/
// write_file/file_operations, rooted at pkg's path. The skills declared
// inside pkg are not turned into tools. A package with an empty Path is
// rejected.
func SkillsToTools(pkg goskills.SkillPackage) ([]tools.Tool, error) {
	if pkg.Path == "" {
		return nil, fmt.Errorf("nil skill package")
	}
	base := pkg.Path
	return []tools.Tool{
		NewSkillTool("run_shell_code", "Execute shell code in a sandboxed working directory", base),
		NewSkillTool("read_file", "Read a file relative to the skill package", base),
		NewSkillTool("write_file", "Write a file relative to the skill package", base),
		NewSkillTool("file_operations", "Read or write a file via a single action+path payload", base),
	}, nil
}
