package assistant

import (
	"regexp"
	"strings"
)

const (
	LanguageGeneric = "JavaScript/TypeScript"
	LanguageUnknown = "unknown"
)

var extensionLanguages = map[string]string{
	".svelte": "Svelte",
	".py":     "Python",
	".js":     "JavaScript",
	".ts":     "TypeScript",
	".html":   "HTML",
	".css":    "CSS",
	".java":   "Java",
	".jsx":    "React JSX",
	".tsx":    "React TypeScript",
	".php":    "PHP",
}

// First match wins, so order matters: svelte markup also looks like HTML.
var languagePatterns = []struct {
	label   string
	pattern *regexp.Regexp
}{
	{"Svelte", regexp.MustCompile(`(?i)<script.*?>|<style.*?>|<template.*?>`)},
	{"Python", regexp.MustCompile(`def\s+\w+\s*\(|import\s+\w+|from\s+\w+\s+import`)},
	{"JavaScript", regexp.MustCompile(`const\s+\w+\s*=|let\s+\w+\s*=|function\s+\w+\s*\(`)},
	{"TypeScript", regexp.MustCompile(`interface\s+\w+|type\s+\w+|:\s*\w+\s*=>`)},
	{"HTML", regexp.MustCompile(`(?i)<(!DOCTYPE|html|head|body|div|span)`)},
	{"CSS", regexp.MustCompile(`(\.|#|\w+)\s*\{[^}]*\}`)},
	{"Java", regexp.MustCompile(`public\s+class|private\s+\w+|package\s+\w+`)},
}

var structureHints = []*regexp.Regexp{
	regexp.MustCompile(`import\s+.*from`),
	regexp.MustCompile(`function\s+\w+\s*\(`),
	regexp.MustCompile(`class\s+\w+`),
	regexp.MustCompile(`@\w+`),
}

// DetectLanguage resolves by file extension, then content patterns, then a
// structural heuristic.
func DetectLanguage(content, ext string) string {
	if ext != "" {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if label, ok := extensionLanguages[ext]; ok {
			return label
		}
	}
	for _, lp := range languagePatterns {
		if lp.pattern.MatchString(content) {
			return lp.label
		}
	}
	for _, h := range structureHints {
		if h.MatchString(content) {
			return LanguageGeneric
		}
	}
	return LanguageUnknown
}
