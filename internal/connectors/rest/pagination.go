package rest

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// linkRegex matches Link header entries: <url>; rel="type".
var linkRegex = regexp.MustCompile(`<([^>]+)>;\s*rel="([^"]+)"`)

// ParseAllLinks extracts all URLs from a Link header by relationship type.
func ParseAllLinks(linkHeader string) map[string]string {
	links := make(map[string]string)
	if linkHeader == "" {
		return links
	}

	for _, part := range strings.Split(linkHeader, ",") {
		matches := linkRegex.FindStringSubmatch(strings.TrimSpace(part))
		if len(matches) == 3 {
			links[matches[2]] = matches[1]
		}
	}
	return links
}

// LastPageNumber reads the page parameter of the rel="last" link.
// Returns false when there is no such link or it carries no page number.
func LastPageNumber(linkHeader, pageParam string) (int, bool) {
	last, ok := ParseAllLinks(linkHeader)["last"]
	if !ok {
		return 0, false
	}
	u, err := url.Parse(last)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(u.Query().Get(pageParam))
	if err != nil {
		return 0, false
	}
	return n, true
}
