package llm

import "testing"

func TestParseObject(t *testing.T) {
	cases := map[string]string{
		"plain":  `{"amount":"1"}`,
		"fenced": "Here you go:\n```json\n{\"amount\":\"1\"}\n```\n",
		"prose":  `Sure! {"amount":"1"} hope this helps`,
	}
	for name, in := range cases {
		obj, err := ParseObject(in)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if obj["amount"] != "1" {
			t.Fatalf("%s: unexpected object %v", name, obj)
		}
	}
}

func TestParseObjectErrors(t *testing.T) {
	for _, in := range []string{"", "no json here", `{"broken":`} {
		if _, err := ParseObject(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

type schemaSample struct {
	Chain  string `json:"chain" jsonschema:"required,enum=mainnet|sepolia"`
	Amount string `json:"amount" jsonschema:"required,description=Amount in ether"`
	Memo   string `json:"memo,omitempty"`
}

func TestSchemaFor(t *testing.T) {
	schema, err := SchemaFor[schemaSample]()
	if err != nil {
		t.Fatalf("SchemaFor: %v", err)
	}
	if schema["type"] != "object" {
		t.Fatalf("expected object schema, got %v", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok || len(props) != 3 {
		t.Fatalf("unexpected properties %v", schema["properties"])
	}
	required, _ := schema["required"].([]any)
	if len(required) != 2 {
		t.Fatalf("expected two required fields, got %v", required)
	}
	if _, ok := schema["$schema"]; ok {
		t.Fatalf("$schema should be stripped")
	}
}
