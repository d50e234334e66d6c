// Package commandsafety classifies shell command argv vectors as dangerous
// or safe-to-auto-approve. It mirrors the heuristics a terminal coding
// assistant needs before it will run a command without asking: known-safe
// read-only tools pass, destructive git/fs verbs are flagged, and shell
// wrappers (bash -lc "...", nu -c "...", pwsh -Command "...") are unwrapped
// one level so the heuristic sees the real command.
package commandsafety

import "strings"

// Verdict is the outcome of classifying a command.
type Verdict struct {
	Dangerous bool
	Reason    string
}

func safe() Verdict { return Verdict{} }

func dangerous(reason string) Verdict {
	return Verdict{Dangerous: true, Reason: reason}
}

// IsDangerousShellLine tokenizes a raw shell command line and classifies it.
// Use this at the policy boundary, where tool calls carry a command string
// rather than a pre-split argv.
func IsDangerousShellLine(line string) Verdict {
	argv := tokenize(line)
	if len(argv) == 0 {
		return safe()
	}
	return IsDangerous(argv)
}

// IsDangerous classifies an argv vector (already split, not a shell string).
func IsDangerous(argv []string) Verdict {
	if len(argv) == 0 {
		return safe()
	}

	if unwrapped, ok := unwrapShell(argv); ok {
		return IsDangerous(unwrapped)
	}

	if v := isDangerousSudo(argv); v.Dangerous {
		return v
	}
	if strings.EqualFold(argv[0], "sudo") && len(argv) > 1 {
		return IsDangerous(argv[1:])
	}

	switch base := baseName(argv[0]); base {
	case "git":
		return isDangerousGit(argv[1:])
	case "rm":
		return isDangerousRm(argv[1:])
	default:
		return safe()
	}
}

func isDangerousSudo(argv []string) Verdict {
	if !strings.EqualFold(baseName(argv[0]), "sudo") {
		return safe()
	}
	return dangerous("sudo escalates privileges; refusing to auto-approve")
}

// unwrapShell recognizes `sh -c '...'`, `bash -lc '...'`, `zsh -c '...'`,
// `nu -c '...'`, and `pwsh -Command '...'` wrappers and returns the
// re-tokenized inner command, so e.g. `bash -lc "git reset --hard"` is
// classified as the git command it actually runs.
func unwrapShell(argv []string) ([]string, bool) {
	if len(argv) < 2 {
		return nil, false
	}
	shell := baseName(argv[0])
	var flagSet map[string]bool
	switch shell {
	case "sh", "bash", "zsh", "nu":
		flagSet = map[string]bool{"-c": true, "-lc": true, "-ic": true}
	case "pwsh", "powershell":
		flagSet = map[string]bool{"-command": true, "-c": true}
	default:
		return nil, false
	}

	for i := 1; i < len(argv)-1; i++ {
		arg := argv[i]
		key := arg
		if shell == "pwsh" || shell == "powershell" {
			key = strings.ToLower(arg)
		}
		if flagSet[key] {
			inner := strings.Join(argv[i+1:], " ")
			toks := tokenize(inner)
			if len(toks) == 0 {
				return nil, false
			}
			return toks, true
		}
	}
	return nil, false
}

// tokenize is a minimal shell-word splitter: it honors single and double
// quotes but does not evaluate expansions, redirection, or pipelines. It is
// only used to recover the leading command name and its immediate
// arguments for classification, not to actually execute anything.
func tokenize(s string) []string {
	var toks []string
	var cur strings.Builder
	var quote byte
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return toks
}

func baseName(path string) string {
	path = strings.TrimSuffix(path, ".exe")
	if i := strings.LastIndexAny(path, "/\\"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// isDangerousGit inspects the subcommand and flags following `git`.
// reset and rm are always dangerous; branch -d/-D/--delete, push with a
// force/delete flag or a dangerous refspec, and clean with -f anywhere in
// a short flag group are dangerous, as are checkout/restore with a "." or
// "--" argument. Everything else (status, diff, log, add, commit, checkout
// of a branch, pull) is left to the generic risk/policy layer.
func isDangerousGit(args []string) Verdict {
	if len(args) == 0 {
		return safe()
	}
	sub := args[0]
	rest := args[1:]

	switch sub {
	case "reset":
		return dangerous("git reset can discard uncommitted work")
	case "rm":
		return dangerous("git rm removes tracked files")
	case "branch":
		for _, a := range rest {
			if a == "-d" || a == "-D" || a == "--delete" || strings.HasPrefix(a, "-D") {
				return dangerous("git branch delete")
			}
		}
		return safe()
	case "push":
		for _, a := range rest {
			switch {
			case a == "--force" || a == "-f" || strings.HasPrefix(a, "--force-with-lease") || strings.HasPrefix(a, "--force-if-includes"):
				return dangerous("git push --force can overwrite remote history")
			case a == "--delete" || a == "-d":
				return dangerous("git push --delete removes a remote ref")
			case strings.HasPrefix(a, "+") || strings.HasPrefix(a, ":"):
				return dangerous("git push with a force or delete refspec")
			}
		}
		return safe()
	case "clean":
		for _, a := range rest {
			if isShortFlagGroupContaining(a, 'f') {
				return dangerous("git clean -f deletes untracked files")
			}
		}
		return safe()
	case "checkout", "restore":
		for _, a := range rest {
			if a == "." || a == "--" {
				return dangerous("git " + sub + " can discard unstaged changes")
			}
		}
		return safe()
	default:
		return safe()
	}
}

// isShortFlagGroupContaining reports whether arg is a short-flag group like
// "-xf" or "-fd" that includes the given rune, without matching long flags.
func isShortFlagGroupContaining(arg string, r rune) bool {
	if len(arg) < 2 || arg[0] != '-' || arg[1] == '-' {
		return false
	}
	for _, c := range arg[1:] {
		if c == r {
			return true
		}
	}
	return false
}

// isDangerousRm flags any `rm` invocation carrying -f or -r/-R (in any
// combination, long or short form); a bare `rm file` without force or
// recursion is left to the generic policy layer since it only removes one
// named file.
func isDangerousRm(args []string) Verdict {
	force, recursive := false, false
	for _, a := range args {
		switch {
		case a == "--force":
			force = true
		case a == "--recursive":
			recursive = true
		case strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--"):
			for _, c := range a[1:] {
				switch c {
				case 'f':
					force = true
				case 'r', 'R':
					recursive = true
				}
			}
		}
	}
	if force || recursive {
		return dangerous("rm -f/-r removes files without confirmation")
	}
	return safe()
}
