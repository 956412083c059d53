// Package urlpath joins URL bases and path segments with exactly one "/"
// between them, so callers never concatenate URLs by hand.
package urlpath

import (
	"net/url"
	"strings"
)

// Join appends segments to base. Leading and trailing slashes on every
// segment are collapsed so that Join("https://h/releases/", "/latest")
// yields "https://h/releases/latest". Empty segments are skipped.
func Join(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	for _, segment := range segments {
		segment = strings.Trim(segment, "/")
		if segment == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(segment)
	}
	return b.String()
}

// LastSegment returns the final non-empty path segment of u, ignoring a trailing slash.
func LastSegment(u *url.URL) string {
	segments := Segments(u)
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// Segments splits the path of u into its non-empty segments.
func Segments(u *url.URL) []string {
	raw := strings.Split(u.Path, "/")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// HostURL builds "scheme://host/segments..." from naming components.
// Host labels are joined with "." and empty labels are skipped.
func HostURL(scheme string, hostLabels []string, segments ...string) string {
	labels := make([]string, 0, len(hostLabels))
	for _, label := range hostLabels {
		label = strings.Trim(label, ".")
		if label != "" {
			labels = append(labels, label)
		}
	}
	if scheme == "" {
		scheme = "https"
	}
	return Join(scheme+"://"+strings.Join(labels, "."), segments...)
}
