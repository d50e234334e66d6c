package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const samplePatch = `*** Begin Patch
*** Add File: notes.txt
+hello
+world
*** End Patch`

func TestParsePatchAdd(t *testing.T) {
	ops, err := ParsePatch(samplePatch)
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != "add" || ops[0].Path != "notes.txt" {
		t.Fatalf("ops = %+v", ops)
	}
	if ops[0].NewRaw != "hello\nworld\n" {
		t.Errorf("content = %q", ops[0].NewRaw)
	}
}

func TestParsePatchRejectsMissingMarkers(t *testing.T) {
	if _, err := ParsePatch("+just lines\n"); err == nil {
		t.Error("expected error for missing Begin Patch")
	}
	if _, err := ParsePatch("*** Begin Patch\n*** Add File: a\n+x\n"); err == nil {
		t.Error("expected error for missing End Patch")
	}
}

func TestApplyAddUpdateDelete(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {\n\told()\n}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "gone.txt"), []byte("bye\n"), 0644); err != nil {
		t.Fatal(err)
	}

	h := &PatchHandler{Root: root}
	patch := `*** Begin Patch
*** Add File: added.txt
+fresh
*** Update File: main.go
@@
 func main() {
-	old()
+	renewed()
 }
*** Delete File: gone.txt
*** End Patch`

	summary, err := h.Apply(context.Background(), "call-1", patch)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(summary.Files) != 3 {
		t.Errorf("files = %v", summary.Files)
	}
	if summary.Added == 0 || summary.Removed == 0 {
		t.Errorf("counts = +%d -%d", summary.Added, summary.Removed)
	}

	got, err := os.ReadFile(filepath.Join(root, "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(got), "renewed()") || strings.Contains(string(got), "old()") {
		t.Errorf("updated content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "gone.txt")); !os.IsNotExist(err) {
		t.Error("gone.txt should have been deleted")
	}
	if _, err := os.Stat(filepath.Join(root, "added.txt")); err != nil {
		t.Error("added.txt should exist")
	}
}

func TestApplyIsAtomicOnHunkMismatch(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha\n"), 0644); err != nil {
		t.Fatal(err)
	}

	h := &PatchHandler{Root: root}
	patch := `*** Begin Patch
*** Add File: b.txt
+new file
*** Update File: a.txt
@@
-does not exist in the file
+replacement
*** End Patch`

	if _, err := h.Apply(context.Background(), "call-2", patch); err == nil {
		t.Fatal("expected a hunk mismatch error")
	}
	if _, err := os.Stat(filepath.Join(root, "b.txt")); !os.IsNotExist(err) {
		t.Error("b.txt must not be written when a later operation fails")
	}
}

func TestApplyRejectsWorkspaceEscape(t *testing.T) {
	h := &PatchHandler{Root: t.TempDir()}
	patch := `*** Begin Patch
*** Add File: ../outside.txt
+nope
*** End Patch`
	if _, err := h.Apply(context.Background(), "call-3", patch); err == nil {
		t.Error("expected a workspace-escape error")
	}
}
