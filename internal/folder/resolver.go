// Package folder maps provider-independent folder names onto the mailbox
// paths a particular server actually exposes.
package folder

import (
	"strings"
)

// Canonical is a provider-independent folder identifier.
type Canonical string

const (
	Inbox  Canonical = "INBOX"
	Sent   Canonical = "Sent"
	Drafts Canonical = "Drafts"
	Spam   Canonical = "Spam"
	Trash  Canonical = "Trash"
)

// All lists every canonical folder in display order.
var All = []Canonical{Inbox, Sent, Drafts, Spam, Trash}

// aliases are the normalized last-segment names providers use for each
// canonical folder.
var aliases = map[Canonical][]string{
	Inbox:  {"inbox"},
	Sent:   {"sent", "sent mail", "sent items", "sent messages"},
	Drafts: {"drafts", "draft"},
	Spam:   {"spam", "junk", "junk e-mail", "junk email", "bulk mail"},
	Trash:  {"trash", "deleted items", "deleted messages", "bin", "deleted"},
}

const gmailPrefix = "[gmail]/"

// ParseCanonical accepts a canonical folder name in any letter case.
func ParseCanonical(name string) (Canonical, bool) {
	n := strings.TrimSpace(name)
	for _, c := range All {
		if strings.EqualFold(n, string(c)) {
			return c, true
		}
	}
	return "", false
}

// Resolve returns the provider path for canonical. Precedence: an exact
// case-insensitive match after separator normalization, then a match of the
// last path segment against the alias table (Gmail paths win ties, then
// listing order). With no match the canonical name itself is returned.
func Resolve(canonical Canonical, providerFolders []string) string {
	want := normalize(string(canonical))
	for _, f := range providerFolders {
		if normalize(f) == want {
			return f
		}
	}

	names := aliases[canonical]
	var first string
	for _, f := range providerFolders {
		if !matchesAlias(f, names) {
			continue
		}
		if strings.HasPrefix(normalize(f), gmailPrefix) {
			return f
		}
		if first == "" {
			first = f
		}
	}
	if first != "" {
		return first
	}

	return string(canonical)
}

// ResolveAll resolves every canonical folder against providerFolders.
func ResolveAll(providerFolders []string) map[Canonical]string {
	out := make(map[Canonical]string, len(All))
	for _, c := range All {
		out[c] = Resolve(c, providerFolders)
	}
	return out
}

func matchesAlias(folder string, names []string) bool {
	n := normalize(folder)
	last := n
	if i := strings.LastIndexByte(n, '/'); i >= 0 {
		last = n[i+1:]
	}
	// Dovecot-style hierarchies use "." as the delimiter.
	dotted := last
	if i := strings.LastIndexByte(last, '.'); i >= 0 {
		dotted = last[i+1:]
	}

	for _, a := range names {
		if last == a || dotted == a {
			return true
		}
	}
	return false
}

// normalize lowercases path, converts "\" to "/", drops empty segments and
// collapses runs of whitespace inside each segment.
func normalize(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	segments := strings.Split(path, "/")

	out := segments[:0]
	for _, seg := range segments {
		seg = strings.Join(strings.Fields(seg), " ")
		if seg == "" {
			continue
		}
		out = append(out, strings.ToLower(seg))
	}
	return strings.Join(out, "/")
}
