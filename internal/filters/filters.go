package filters

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/vkosarev/groupwarden/resources"
)

// Kind names the filter that matched a message. Order of checks is fixed:
// profanity, link, file, toxicity.
type Kind string

const (
	KindProfanity Kind = "profanity"
	KindLink      Kind = "link"
	KindFile      Kind = "file"
	KindToxicity  Kind = "toxicity"
)

type patterns struct {
	Profanity           []string `yaml:"profanity"`
	Links               []string `yaml:"links"`
	DangerousExtensions []string `yaml:"dangerous_extensions"`
}

// Engine holds the compiled static filters. Toxicity is not here, it goes
// through the LLM classifier.
type Engine struct {
	profanity  []*regexp.Regexp
	links      []*regexp.Regexp
	extensions map[string]struct{}
}

func NewEngine() (*Engine, error) {
	raw, err := resources.FS.ReadFile("filters/patterns.yml")
	if err != nil {
		return nil, fmt.Errorf("read filter patterns: %w", err)
	}
	var p patterns
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal filter patterns: %w", err)
	}

	e := &Engine{extensions: make(map[string]struct{}, len(p.DangerousExtensions))}
	for _, src := range p.Profanity {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("compile profanity pattern %q: %w", src, err)
		}
		e.profanity = append(e.profanity, re)
	}
	for _, src := range p.Links {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("compile link pattern %q: %w", src, err)
		}
		e.links = append(e.links, re)
	}
	for _, ext := range p.DangerousExtensions {
		e.extensions[strings.ToLower(ext)] = struct{}{}
	}
	return e, nil
}

func (e *Engine) MatchesProfanity(text string) bool {
	for _, re := range e.profanity {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (e *Engine) MatchesLink(text string) bool {
	for _, re := range e.links {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (e *Engine) IsDangerousFile(fileName string) bool {
	if fileName == "" {
		return false
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	_, ok := e.extensions[ext]
	return ok
}
