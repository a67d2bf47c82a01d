package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	xerrors "OpenMCP-EVM/internal/errors"
)

// ModelClass 描述调用方需要的模型规模，由各 provider 映射为具体模型。
type ModelClass string

const (
	ModelClassSmall  ModelClass = "small"
	ModelClassMedium ModelClass = "medium"
	ModelClassLarge  ModelClass = "large"
)

// CodeExtractionFailure 表示大模型未能给出可解析的结构化输出。
const CodeExtractionFailure xerrors.Code = "EXTRACTION_FAILED"

func init() {
	xerrors.Register(CodeExtractionFailure, xerrors.Attributes{
		Message:   "structured extraction failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// ObjectRequest 描述一次结构化抽取。
type ObjectRequest struct {
	Prompt     string
	SchemaName string
	// Schema 是 JSON Schema 对象，为空时 provider 只要求返回 JSON 对象。
	Schema     map[string]any
	ModelClass ModelClass
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	GenerateObject(ctx context.Context, req ObjectRequest) (map[string]any, error)
}

// ParseObject 从模型输出中解析 JSON 对象，兼容 ```json 代码块与前后缀文字。
func ParseObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("模型输出为空")
	}

	if start := strings.Index(text, "```"); start >= 0 {
		body := text[start+3:]
		body = strings.TrimPrefix(body, "json")
		if end := strings.Index(body, "```"); end >= 0 {
			text = strings.TrimSpace(body[:end])
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("模型输出中没有 JSON 对象: %q", truncate(text, 120))
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("解析模型输出失败: %w", err)
	}
	return obj, nil
}

func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return text
}
