// Package langs carries the closed set of assignment languages and the
// per-variant metadata the composer and config validation need.
package langs

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

type Language string

const (
	Cpp    Language = "cpp"
	Java   Language = "java"
	C      Language = "c"
	Golang Language = "go"
	Python Language = "python"
	Rust   Language = "rust"
)

// Spec is the per-language metadata. Only cpp and java are runnable in the
// current sandbox image; the rest exist so configs naming them validate and
// their extensions are accepted by the composer allow-list.
type Spec struct {
	Lang       Language
	MainFname  string
	Extensions []string
	Runnable   bool
}

var specs = map[Language]Spec{
	Cpp:    {Lang: Cpp, MainFname: "Main.cpp", Extensions: []string{".cpp", ".cc", ".cxx", ".h", ".hpp"}, Runnable: true},
	Java:   {Lang: Java, MainFname: "Main.java", Extensions: []string{".java"}, Runnable: true},
	C:      {Lang: C, MainFname: "main.c", Extensions: []string{".c", ".h"}},
	Golang: {Lang: Golang, MainFname: "main.go", Extensions: []string{".go"}},
	Python: {Lang: Python, MainFname: "main.py", Extensions: []string{".py"}},
	Rust:   {Lang: Rust, MainFname: "main.rs", Extensions: []string{".rs"}},
}

// Get resolves a language name from a config document.
func Get(name string) (Spec, bool) {
	spec, ok := specs[Language(strings.ToLower(name))]
	return spec, ok
}

// makefile names are allowed regardless of language; whether the task
// command invokes make is the instructor's call.
var makefileNames = mapset.NewSet("Makefile", "makefile", "GNUmakefile")

// AllowedExtensions returns the archive-entry allow-list for a language:
// its source/header extensions plus ".txt" and ".md" for data files.
func AllowedExtensions(lang Language) mapset.Set[string] {
	set := mapset.NewSet(".txt", ".md")
	if spec, ok := specs[lang]; ok {
		for _, ext := range spec.Extensions {
			set.Add(ext)
		}
	}
	return set
}

// Allowed reports whether an archive entry with the given base name and
// extension may be extracted for the language.
func Allowed(lang Language, base, ext string) bool {
	if makefileNames.Contains(base) {
		return true
	}
	return AllowedExtensions(lang).Contains(strings.ToLower(ext))
}

// IsCompileCommand is a heuristic for commands that only compile and so
// produce no sections worth scoring; the orchestrator uses it to explain
// section-less task output.
func IsCompileCommand(cmd string) bool {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "g++", "gcc", "clang", "clang++", "javac", "rustc":
		return true
	case "make":
		// "make run" executes; bare "make" or "make build" compiles.
		return len(fields) == 1 || fields[1] == "build" || fields[1] == "all"
	}
	return false
}
