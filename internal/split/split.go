// Package split tokenizes a task's stdout into named subsections.
//
// The stream is a concatenation of records <delim><name>\n<body>, where the
// body runs until the next delimiter or EOF. Content before the first
// delimiter is discarded with a warning. Trailing whitespace of each body is
// trimmed; internal whitespace stays verbatim.
package split

import (
	"fmt"
	"strings"
)

type Section struct {
	Name string
	Body string
}

// Split parses stdout with the configured delimiter. Duplicate names keep
// the last body at the first occurrence's position and record a warning.
func Split(stdout, delim string) ([]Section, []string) {
	var warnings []string

	parts := strings.Split(stdout, delim)
	if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
		warnings = append(warnings, "content before first delimiter discarded")
	}
	parts = parts[1:]

	sections := make([]Section, 0, len(parts))
	index := make(map[string]int, len(parts))
	for _, part := range parts {
		name, body, found := strings.Cut(part, "\n")
		if !found {
			body = ""
		}
		name = strings.TrimSpace(name)
		if name == "" {
			warnings = append(warnings, "record with empty subsection name discarded")
			continue
		}
		body = strings.TrimRight(body, " \t\r\n")

		if at, seen := index[name]; seen {
			warnings = append(warnings, fmt.Sprintf("duplicate subsection %q, keeping last occurrence", name))
			sections[at].Body = body
			continue
		}
		index[name] = len(sections)
		sections = append(sections, Section{Name: name, Body: body})
	}
	return sections, warnings
}

// Names returns the ordered subsection names of sections.
func Names(sections []Section) []string {
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = s.Name
	}
	return names
}

// Find returns the section with the given name, if present.
func Find(sections []Section, name string) (Section, bool) {
	for _, s := range sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}
