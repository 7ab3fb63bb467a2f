package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// readyMarker is the file an environment directory must carry to be
// considered provisioned.
const readyMarker = "environment_ready"

// Environment selects the toolchain environment a command activates before
// running.
type Environment struct {
	Root    string
	Name    string
	Version string

	// Activate overrides the default activation command for this
	// environment, taken from the environments config file.
	Activate []string
}

// WrapCommand turns inner into a bash invocation that activates the
// environment first. The inner command is shell-quoted as a whole.
func (e Environment) WrapCommand(inner []string) []string {
	activate := e.Activate
	if len(activate) == 0 {
		activate = []string{
			"source",
			filepath.Join(e.Root, e.Name, "venv/bin/activate"),
		}
	}
	joined := make([]string, 0, len(activate)+1+len(inner))
	joined = append(joined, activate...)
	joined = append(joined, "&&")
	joined = append(joined, inner...)
	return []string{"bash", "-c", shellJoin(joined)}
}

// List enumerates provisioned environments under root: directories carrying
// the ready marker, skipping names starting with '.', '_' or '-'.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	var names []string
	for _, ent := range entries {
		name := ent.Name()
		if name == "" || strings.ContainsRune("._-", rune(name[0])) {
			continue
		}
		if !ent.IsDir() {
			continue
		}
		marker := filepath.Join(root, name, readyMarker)
		if info, err := os.Stat(marker); err != nil || !info.Mode().IsRegular() {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// shellJoin renders argv for `bash -c`. Words made of safe characters pass
// through so shell operators like && keep their meaning; anything else is
// single-quoted.
func shellJoin(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}
	return strings.Join(quoted, " ")
}

const shellSafeChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-./=:,@&+%"

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !strings.ContainsRune(shellSafeChars, r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
