package pagination

import (
	"net/url"
	"strconv"
	"strings"
)

// Offset returns the position of the next item within its page.
func Offset(processed, pageSize int) int {
	if pageSize <= 0 || processed <= 0 {
		return 0
	}
	return processed % pageSize
}

// PageOf returns the 1-based page holding the next unprocessed item.
func PageOf(processed, pageSize int) int {
	if pageSize <= 0 || processed <= 0 {
		return 1
	}
	return processed/pageSize + 1
}

// Window returns the half-open index range [from, to) of up to batchSize items
// starting at offset within a page of pageLen items.
func Window(offset, batchSize, pageLen int) (from, to int) {
	if offset >= pageLen || batchSize <= 0 {
		return pageLen, pageLen
	}
	to = offset + batchSize
	if to > pageLen {
		to = pageLen
	}
	return offset, to
}

// ParseLinks parses an RFC 5988 Link header into a rel → URL map.
func ParseLinks(header string) map[string]string {
	links := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}

		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		target = strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")

		for _, attr := range segments[1:] {
			attr = strings.TrimSpace(attr)
			if !strings.HasPrefix(attr, "rel=") {
				continue
			}
			rel := strings.Trim(strings.TrimPrefix(attr, "rel="), `"`)
			for _, r := range strings.Fields(rel) {
				links[r] = target
			}
		}
	}
	return links
}

// LastPage returns the page query parameter of the rel="last" link.
func LastPage(header string) (int, bool) {
	last, ok := ParseLinks(header)["last"]
	if !ok {
		return 0, false
	}

	u, err := url.Parse(last)
	if err != nil {
		return 0, false
	}

	page, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil || page <= 0 {
		return 0, false
	}
	return page, true
}
