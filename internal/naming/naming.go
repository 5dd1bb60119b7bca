// Package naming derives working and artifact filenames for uploads.
//
// A working name has the shape
//
//	<user>_<yyyymmddThhmmss>_<xid>_<stem><ext>
//
// where <user> and <stem> are reduced to a filesystem-safe alphabet. The xid
// part carries a per-process counter, machine and process id, so two
// allocations never share it within one process lifetime regardless of how
// fast a single user uploads.
package naming

import (
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/xid"
)

const (
	maxUserLen = 32
	maxStemLen = 64
	fallback   = "upload"
	timeLayout = "20060102T150405"
)

// Name is the result of one allocation.
type Name struct {
	// Working is the transient filename of the upload (keeps the RAW extension).
	Working string
	// Stem is Working without extension; artifacts are keyed by Stem + ".dng".
	Stem string
	// Display is what the client sees: the sanitized original stem plus ".dng".
	Display string
}

// Allocator hands out Names. The zero value is not usable; call NewAllocator.
type Allocator struct {
	now func() time.Time
}

func NewAllocator() *Allocator {
	return &Allocator{now: time.Now}
}

// NewAllocatorWithClock is used by tests that need stable timestamps.
func NewAllocatorWithClock(now func() time.Time) *Allocator {
	return &Allocator{now: now}
}

// Allocate derives a Name for an upload of originalFilename by userID.
func (a *Allocator) Allocate(userID, originalFilename string) Name {
	t := a.now()
	base := filepath.Base(strings.ReplaceAll(originalFilename, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))
	stem := Sanitize(strings.TrimSuffix(base, filepath.Ext(base)), maxStemLen)
	if stem == "" {
		stem = fallback
	}
	if ext != "" && Sanitize(ext[1:], 8) != ext[1:] {
		ext = ""
	}

	working := strings.Join([]string{
		UserPrefix(userID),
		t.UTC().Format(timeLayout),
		xid.NewWithTime(t).String(),
		stem,
	}, "_")

	return Name{
		Working: working + ext,
		Stem:    working,
		Display: stem + ".dng",
	}
}

// UserPrefix is the leading component of every working name owned by userID.
func UserPrefix(userID string) string {
	p := Sanitize(userID, maxUserLen)
	if p == "" {
		return "anon"
	}
	return p
}

// Sanitize keeps ASCII letters, digits, '-', '.' and '_', turns everything
// else into '_', collapses runs of '_', strips leading dots and underscores
// and truncates to max bytes.
func Sanitize(s string, max int) string {
	var b strings.Builder
	lastUnderscore := false
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.TrimLeft(b.String(), "._")
	out = strings.TrimRight(out, "_")
	if len(out) > max {
		out = strings.TrimRight(out[:max], "._")
	}
	return out
}
