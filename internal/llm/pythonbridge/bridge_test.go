package pythonbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	xerrors "OpenMCP-EVM/internal/errors"
	"OpenMCP-EVM/internal/llm"
)

func TestGenerateObjectRunsScript(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "extract.sh")
	body := "#!/bin/sh\ncat > /dev/null\necho '{\"fromChain\":\"base\",\"amount\":\"2\"}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	client, err := NewClient(sh, ResolveScriptPath(dir, "extract.sh"), dir)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	obj, err := client.GenerateObject(context.Background(), llm.ObjectRequest{Prompt: "airdrop"})
	if err != nil {
		t.Fatalf("GenerateObject: %v", err)
	}
	if obj["fromChain"] != "base" {
		t.Fatalf("unexpected object %v", obj)
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/srv", "a.py"); got != filepath.Join("/srv", "a.py") {
		t.Fatalf("got %s", got)
	}
	if got := ResolveScriptPath("/srv", "/abs/a.py"); got != "/abs/a.py" {
		t.Fatalf("got %s", got)
	}
	if _, err := NewClient("", "", ""); err == nil {
		t.Fatalf("expected error for empty script path")
	}
}

func TestGenerateObjectReportsStderr(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fail.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho 'model missing' >&2\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	client, err := NewClient(sh, script, dir)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.GenerateObject(context.Background(), llm.ObjectRequest{Prompt: "airdrop"})
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamFailure {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "model missing") {
		t.Fatalf("stderr not reported: %v", err)
	}
}
