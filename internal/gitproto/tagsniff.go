package gitproto

import (
	"bytes"
	"io"
	"regexp"
)

// tagCommandWindow bounds the sliding window kept to detect a tag command
// that straddles two read chunks. 200 bytes comfortably covers
// "<40-hex-old> <40-hex-new> refs/tags/<name>\x00<capabilities>\n".
const tagCommandWindow = 200

var zeroHash40 = []byte("0000000000000000000000000000000000000000")

// tagCommandPattern matches "<oldhex> <newhex> refs/tags/<name>" followed by
// whitespace or a NUL capability separator.
var tagCommandPattern = regexp.MustCompile(`([0-9a-f]{40}) ([0-9a-f]{40}) refs/tags/([^\s\x00]+)[\s\x00]`)

// tagSniffer wraps an io.Reader, scanning a bounded tail of bytes seen so far
// for receive-pack command lines that create or update an annotated or
// lightweight tag. It is meant to wrap the reader used to feed `git
// receive-pack`'s stdin, upstream of the copy into the subprocess, so the
// scan is purely observational and never slows or blocks the push.
type tagSniffer struct {
	r        io.Reader
	repo     string
	onTag    func(TagInfo)
	window   []byte
	seen     map[string]bool
	finished bool
}

func newTagSniffer(r io.Reader, repo string, onTag func(TagInfo)) *tagSniffer {
	return &tagSniffer{r: r, repo: repo, onTag: onTag, seen: make(map[string]bool)}
}

func (t *tagSniffer) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 && !t.finished {
		t.scan(p[:n])
	}
	return n, err
}

func (t *tagSniffer) scan(chunk []byte) {
	t.window = append(t.window, chunk...)

	// Packfile framing ("PACK" magic) marks the end of the command section;
	// stop scanning once we see it so we never hold the whole pack in memory.
	if idx := bytes.Index(t.window, []byte("PACK")); idx >= 0 {
		t.window = t.window[:idx]
		t.finished = true
	}

	for _, m := range tagCommandPattern.FindAllSubmatch(t.window, -1) {
		newHash := m[2]
		if bytes.Equal(newHash, zeroHash40) {
			continue
		}
		name := string(m[3])
		commit := string(newHash)
		key := commit + " " + name
		if t.seen[key] {
			continue
		}
		t.seen[key] = true
		t.onTag(TagInfo{
			Repo:    t.repo,
			Commit:  commit,
			Version: name,
			Accept:  func() {},
			Reject:  func(string) {},
		})
	}

	if t.finished {
		return
	}

	// Keep only the trailing window; a match cannot start earlier than
	// tagCommandWindow bytes before the end of what we've seen so far.
	if len(t.window) > tagCommandWindow {
		// Drop everything except the last window. The kept suffix may still
		// hold a command that already matched; the seen map keeps it from
		// being emitted twice.
		t.window = append([]byte(nil), t.window[len(t.window)-tagCommandWindow:]...)
	}
}
