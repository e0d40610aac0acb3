package procexec

import "regexp"

// blockedPatterns are never allowed to run; the command is rejected
// without spawning a subprocess.
var blockedPatterns = compileAll([]string{
	`sudo\s+`,
	`rm\s+-[rf]*\s+[/~]`,
	`rm\s+-[rf]*\s+\.\.`,
	`>\s*/dev/`,
	`chmod\s+777`,
	`curl.*\|\s*(ba)?sh`,
	`wget.*\|\s*(ba)?sh`,
	`mkfs\.`,
	`dd\s+if=`,
	`:\(\)\s*\{\s*:\|:\s*&\s*\}`,
	`>\s*/etc/`,
	`git\s+push.*--force`,
})

// confirmPatterns require the caller to pass Confirmed=true.
var confirmPatterns = compileAll([]string{
	`git\s+push`,
	`git\s+reset\s+--hard`,
	`git\s+clean\s+-[fd]`,
	`git\s+checkout\s+\.`,
	`rm\s+-[rf]`,
	`pip\s+uninstall`,
	`npm\s+publish`,
	`docker\s+(rm|rmi|system\s+prune)`,
})

// noisyPatterns have their successful output collapsed to a summary line.
var noisyPatterns = compileAll([]string{
	`^(pip|pip3|python -m pip)\s+install`,
	`^npm\s+(install|ci|update)`,
	`^yarn(\s+install)?`,
	`^pnpm\s+install`,
	`^git\s+(clone|pull|fetch)`,
	`^apt(-get)?\s+(install|update)`,
	`^cargo\s+build`,
	`^make\b`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func isBlocked(cmd string) bool { return matchesAny(blockedPatterns, cmd) }

// IsBlocked reports whether cmd matches the security blocklist applied to
// every command execution path, local or remote.
func IsBlocked(cmd string) bool { return isBlocked(cmd) }
func needsConfirm(cmd string) bool { return matchesAny(confirmPatterns, cmd) }
func isNoisy(cmd string) bool { return matchesAny(noisyPatterns, cmd) }

// urlPatterns are tried in order against background-command output;
// the first match wins. A capture group of just digits is a port,
// expanded to http://localhost:<port>.
var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`Local:\s*(https?://\S+)`),
	regexp.MustCompile(`http://localhost:(\d+)`),
	regexp.MustCompile(`http://127\.0\.0\.1:(\d+)`),
	regexp.MustCompile(`Server running (?:at|on)\s*(https?://\S+)`),
	regexp.MustCompile(`listening on\s*(https?://\S+)`),
}

var portOnly = regexp.MustCompile(`^\d+$`)

// detectURL scans text for the first matching pattern and returns a
// fully-qualified URL, or "" if nothing matched.
func detectURL(text string) string {
	for _, p := range urlPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		captured := m[1]
		if portOnly.MatchString(captured) {
			return "http://localhost:" + captured
		}
		return captured
	}
	return ""
}
