// Package pythonbridge 把结构化抽取交给本地脚本完成，适合离线或自托管模型。
package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	xerrors "OpenMCP-EVM/internal/errors"
	"OpenMCP-EVM/internal/llm"
)

// request 是写入脚本 stdin 的载荷，脚本需向 stdout 输出一个 JSON 对象。
type request struct {
	Prompt     string         `json:"prompt"`
	Schema     map[string]any `json:"schema,omitempty"`
	SchemaName string         `json:"schema_name,omitempty"`
	ModelClass string         `json:"model_class,omitempty"`
}

// Client 每次调用都启动一个脚本进程。
type Client struct {
	python string
	script string
	dir    string
}

// NewClient 校验脚本路径，python 为空时使用 python3。
func NewClient(python, script, dir string) (*Client, error) {
	if strings.TrimSpace(script) == "" {
		return nil, xerrors.New(xerrors.CodeConfigurationFailure, "未指定 Python 脚本路径")
	}
	if python == "" {
		python = "python3"
	}
	return &Client{python: python, script: script, dir: dir}, nil
}

// GenerateObject 实现 llm.Client。
func (c *Client) GenerateObject(ctx context.Context, req llm.ObjectRequest) (map[string]any, error) {
	payload, err := json.Marshal(request{
		Prompt:     req.Prompt,
		Schema:     req.Schema,
		SchemaName: req.SchemaName,
		ModelClass: string(req.ModelClass),
	})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.python, c.script)
	cmd.Dir = c.dir
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if stdErrors.As(err, &exitErr) {
			return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err,
				"Python 脚本退出异常: "+strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "启动 Python 脚本失败")
	}

	obj, err := llm.ParseObject(string(out))
	if err != nil {
		return nil, xerrors.Wrap(llm.CodeExtractionFailure, err, "解析 Python 输出失败")
	}
	return obj, nil
}

// ResolveScriptPath 把相对脚本路径解析到 baseDir 下。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" || baseDir == "" || filepath.IsAbs(script) {
		return script
	}
	return filepath.Join(baseDir, script)
}
