package convert

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fallbackBaseName replaces names that sanitise to nothing.
const fallbackBaseName = "image"

// SanitizeBaseName derives an output base name from a file name: the extension is
// stripped, characters other than ASCII letters and digits, letters of other
// scripts, whitespace, '_' and '-' are removed, and whitespace runs collapse to a
// single '_'. An empty result becomes "image".
func SanitizeBaseName(fileName string) string {
	stem := stripExtension(fileName)

	// Transformers carry state, so build the chain per call.
	t := transform.Chain(norm.NFC, runes.Remove(runes.Predicate(func(r rune) bool {
		return !allowedNameRune(r)
	})))
	cleaned, _, err := transform.String(t, stem)
	if err != nil {
		cleaned = ""
	}

	base := strings.Join(strings.Fields(cleaned), "_")
	if base == "" {
		return fallbackBaseName
	}
	return base
}

func stripExtension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 || strings.ContainsRune(name[i+1:], '/') {
		return name
	}
	return name[:i]
}

func allowedNameRune(r rune) bool {
	switch {
	case r == '_' || r == '-':
		return true
	case unicode.IsSpace(r):
		return true
	case r < utf8.RuneSelf:
		return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
	default:
		return unicode.IsLetter(r)
	}
}

// NameAllocator hands out output file names that are unique within its registry.
// The registry only grows. All methods are goroutine-safe.
type NameAllocator struct {
	mu       sync.Mutex
	ext      string
	reserved map[string]struct{}
	next     map[string]int // base+ext -> first suffix not yet known to be taken
}

// NewNameAllocator creates an allocator producing names with extension ext (".webp").
func NewNameAllocator(ext string) *NameAllocator {
	return &NameAllocator{
		ext:      ext,
		reserved: make(map[string]struct{}),
		next:     make(map[string]int),
	}
}

// Allocate reserves and returns the first free name among base.ext, base_1.ext,
// base_2.ext, ... The check and the reservation happen under one lock.
func (a *NameAllocator) Allocate(base string) string {
	return a.AllocateExt(base, a.ext)
}

// AllocateExt is Allocate with an explicit extension, for outputs that end up in a
// format other than the default one.
func (a *NameAllocator) AllocateExt(base, ext string) string {
	if base == "" {
		base = fallbackBaseName
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := base + ext
	// Terminates: the registry is finite, so some suffix is always free.
	for counter := a.next[key]; ; counter++ {
		candidate := candidateName(base, ext, counter)
		if _, taken := a.reserved[candidate]; taken {
			continue
		}
		a.reserved[candidate] = struct{}{}
		a.next[key] = counter + 1
		return candidate
	}
}

func candidateName(base, ext string, counter int) string {
	if counter == 0 {
		return base + ext
	}
	return fmt.Sprintf("%s_%d%s", base, counter, ext)
}

// Reserved reports whether name has been handed out.
func (a *NameAllocator) Reserved(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.reserved[name]
	return ok
}

// Len returns the number of reserved names.
func (a *NameAllocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reserved)
}
