package jsrepl

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLooksWrappedJSON(t *testing.T) {
	if !looksWrapped(`{"code":"1+1"}`) {
		t.Error("JSON-wrapped input should be rejected")
	}
}

func TestLooksWrappedFence(t *testing.T) {
	if !looksWrapped("```js\n1+1\n```") {
		t.Error("fenced input should be rejected")
	}
}

func TestLooksWrappedRawIsFine(t *testing.T) {
	if looksWrapped("console.log(1+1)") {
		t.Error("raw JavaScript should not be rejected")
	}
}

func TestStripPragma(t *testing.T) {
	rest, timeout, ok := stripPragma("// codex-js-repl: timeout_ms=50\nwhile(true){}")
	if !ok {
		t.Fatal("expected pragma to be recognized")
	}
	if timeout != 50*time.Millisecond {
		t.Fatalf("timeout = %v, want 50ms", timeout)
	}
	if rest != "while(true){}" {
		t.Fatalf("rest = %q", rest)
	}
}

func TestStripPragmaAbsent(t *testing.T) {
	rest, _, ok := stripPragma("1+1")
	if ok {
		t.Fatal("should not detect a pragma")
	}
	if rest != "1+1" {
		t.Fatalf("rest = %q", rest)
	}
}

func TestExecuteRejectsWrappedInput(t *testing.T) {
	m := NewManager(nil)
	res := m.Execute(context.Background(), `{"code":"1+1"}`)
	if res.Error == "" {
		t.Fatal("expected an error for JSON-wrapped input")
	}
}

// shellKernel is a stand-in kernel: it hangs on code containing
// while(true) and answers everything else with output "2".
const shellKernel = `while IFS= read -r line; do
  case "$line" in
    *'while(true)'*) sleep 60 ;;
    *)
      id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      printf '{"type":"exec_result","id":%s,"ok":true,"output":"2"}\n' "$id"
      ;;
  esac
done`

func TestExecuteTimeoutResetsKernel(t *testing.T) {
	m := NewManager([]string{"sh", "-c", shellKernel})
	defer m.reset()

	res := m.Execute(context.Background(), "// codex-js-repl: timeout_ms=50\nwhile(true){}")
	if res.Error != "js_repl timed out after 50ms" {
		t.Fatalf("error = %q, want timeout message", res.Error)
	}
	if res.Output != "" {
		t.Errorf("output = %q, want empty", res.Output)
	}

	m.mu.Lock()
	alive := m.cmd != nil
	m.mu.Unlock()
	if alive {
		t.Error("kernel should have been discarded after the timeout")
	}

	res = m.Execute(context.Background(), "1+1")
	if res.Error != "" {
		t.Fatalf("post-reset execute failed: %q", res.Error)
	}
	if !strings.Contains(res.Output, "2") {
		t.Errorf("post-reset output = %q, want it to contain \"2\"", res.Output)
	}
}
