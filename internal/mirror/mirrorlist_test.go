package mirror

import (
	"strings"
	"testing"
)

func TestParseMirrorlist(t *testing.T) {
	content := `
## Arch Linux repository mirrorlist
# Generated on 2026-01-02

Server = https://mirror.one.example/archlinux/$repo/os/$arch
Server = https://mirror.two.example/archlinux/$repo/os/$arch

# Server = https://disabled.example/archlinux/$repo/os/$arch
Server=http://mirror.three.example/arch/
NotAServer = https://ignored.example
`
	urls := ParseMirrorlist(strings.NewReader(content))
	expected := []string{
		"https://mirror.one.example/archlinux",
		"https://mirror.two.example/archlinux",
		"http://mirror.three.example/arch",
	}
	if len(urls) != len(expected) {
		t.Fatalf("expected %d urls, got %d: %v", len(expected), len(urls), urls)
	}
	for i, want := range expected {
		if urls[i] != want {
			t.Fatalf("url[%d] = %s, want %s", i, urls[i], want)
		}
	}
}

func TestParseMirrorlistEmpty(t *testing.T) {
	urls := ParseMirrorlist(strings.NewReader("# nothing here\n"))
	if len(urls) != 0 {
		t.Fatalf("expected no urls, got %v", urls)
	}
}
