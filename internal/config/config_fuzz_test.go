package config

import (
	"os"
	"strings"
	"testing"
)

// FuzzWorkerConfigTOML feeds random-ish fields into a tiny TOML and ensures
// the loader does not panic.
func FuzzWorkerConfigTOML(f *testing.F) {
	f.Add("bridge", "sleep 0.01", "3s", "2s")
	f.Add("", "true", "1s", "5s")
	f.Add("x", "", "nonsense", "")

	f.Fuzz(func(t *testing.T, name, cmd, interval, timeout string) {
		clean := func(s string) string {
			return strings.NewReplacer("\"", "", "\\", "", "\n", "", "\r", "").Replace(strings.TrimSpace(s))
		}
		b := strings.Builder{}
		b.WriteString("[worker]\n")
		b.WriteString("name = \"" + clean(name) + "\"\n")
		b.WriteString("command = \"" + clean(cmd) + "\"\n")
		b.WriteString("[health]\n")
		if interval != "" {
			b.WriteString("interval = \"" + clean(interval) + "\"\n")
		}
		if timeout != "" {
			b.WriteString("timeout = \"" + clean(timeout) + "\"\n")
		}
		tmp := t.TempDir() + "/fuzz.toml"
		if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
			t.Skip()
		}
		c, err := Load(tmp) // must not panic
		if err == nil && c.Health.Timeout >= c.Health.Interval {
			t.Fatalf("accepted timeout %s >= interval %s", c.Health.Timeout, c.Health.Interval)
		}
	})
}
