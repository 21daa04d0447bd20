package version

import "testing"

func TestString(t *testing.T) {
	VERSION, Commit = "1.2.3", "abc123"
	t.Cleanup(func() { VERSION, Commit = "dev", "dev" })
	if got := String("terminus"); got != "terminus 1.2.3 (abc123)" {
		t.Fatalf("String() = %q", got)
	}
}
