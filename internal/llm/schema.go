package llm

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor 根据结构体的 json/jsonschema 标签生成内联的 JSON Schema。
func SchemaFor[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("序列化 schema 失败: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("转换 schema 失败: %w", err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// MustSchemaFor 与 SchemaFor 相同，失败时 panic，适用于包级变量初始化。
func MustSchemaFor[T any]() map[string]any {
	s, err := SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return s
}
