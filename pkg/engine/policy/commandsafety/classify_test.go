package commandsafety

import "testing"

func TestSafeCommands(t *testing.T) {
	cases := [][]string{
		{"git", "status"},
		{"git", "diff"},
		{"git", "log", "--oneline"},
		{"git", "add", "."},
		{"git", "commit", "-m", "msg"},
		{"ls", "-la"},
		{"cat", "file.go"},
		{"rm", "file.txt"},
	}
	for _, argv := range cases {
		if v := IsDangerous(argv); v.Dangerous {
			t.Errorf("IsDangerous(%v) = dangerous(%q), want safe", argv, v.Reason)
		}
	}
}

func TestDangerousGit(t *testing.T) {
	cases := [][]string{
		{"git", "reset", "--hard"},
		{"git", "reset", "HEAD~1"},
		{"git", "rm", "somefile"},
		{"git", "rm", "-r", "dir"},
		{"git", "branch", "-D", "feature"},
		{"git", "branch", "--delete", "feature"},
		{"git", "push", "--force"},
		{"git", "push", "--force-with-lease", "origin", "main"},
		{"git", "push", "--force-if-includes", "origin", "main"},
		{"git", "push", "-f", "origin", "main"},
		{"git", "push", "origin", ":feature"},
		{"git", "push", "origin", "+main:main"},
		{"git", "clean", "-fd"},
		{"git", "clean", "-xdf"},
		{"git", "checkout", "."},
		{"git", "restore", "."},
	}
	for _, argv := range cases {
		if v := IsDangerous(argv); !v.Dangerous {
			t.Errorf("IsDangerous(%v) = safe, want dangerous", argv)
		}
	}
}

func TestDangerousRm(t *testing.T) {
	cases := [][]string{
		{"rm", "-rf", "/tmp/x"},
		{"rm", "-f", "file"},
		{"rm", "--force", "file"},
		{"rm", "-r", "dir"},
	}
	for _, argv := range cases {
		if v := IsDangerous(argv); !v.Dangerous {
			t.Errorf("IsDangerous(%v) = safe, want dangerous", argv)
		}
	}
}

func TestSudoAlwaysDangerous(t *testing.T) {
	if v := IsDangerous([]string{"sudo", "ls"}); !v.Dangerous {
		t.Error("sudo ls should be dangerous regardless of inner command")
	}
}

func TestShellWrapperUnwrapping(t *testing.T) {
	cases := []struct {
		argv []string
		want bool
	}{
		{[]string{"bash", "-lc", "git reset --hard"}, true},
		{[]string{"bash", "-lc", "git status"}, false},
		{[]string{"sh", "-c", "rm -rf /tmp/x"}, true},
		{[]string{"nu", "-c", "git push --force"}, true},
		{[]string{"pwsh", "-Command", "git push --force"}, true},
	}
	for _, c := range cases {
		got := IsDangerous(c.argv).Dangerous
		if got != c.want {
			t.Errorf("IsDangerous(%v) = %v, want %v", c.argv, got, c.want)
		}
	}
}

func TestNonDestructiveGitBranchDelete(t *testing.T) {
	if v := IsDangerous([]string{"git", "branch", "-l"}); v.Dangerous {
		t.Errorf("git branch -l should be safe, got dangerous(%q)", v.Reason)
	}
}
