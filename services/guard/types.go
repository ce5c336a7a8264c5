// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

type guardPatternFile struct {
	Classifications []Classification `yaml:"classifications"`
}

// Classification groups related patterns under a named sensitivity class.
// Higher priority classes are checked first.
type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Block       bool      `yaml:"block"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Pattern is a single detection rule.
type Pattern struct {
	Id          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Confidence  ConfidenceLevel `yaml:"confidence"`

	compiled *regexp.Regexp
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := ConfidenceLevel(s)
	switch incoming {
	case High, Medium, Low:
		*c = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incoming)
	}
}

func (f *guardPatternFile) compileRegexes() error {
	for i := range f.Classifications {
		for j := range f.Classifications[i].Patterns {
			pattern := &f.Classifications[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
			}
			pattern.compiled = re
		}
	}
	return nil
}

func (f *guardPatternFile) sortByPriority() {
	sort.Slice(f.Classifications, func(i, j int) bool {
		return f.Classifications[i].Priority > f.Classifications[j].Priority
	})
}

// Finding describes one pattern match inside a scanned message.
type Finding struct {
	ClassificationName string          `json:"classification_name"`
	PatternId          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	MatchedContent     string          `json:"matched_content"`
	Confidence         ConfidenceLevel `json:"confidence"`
	Blocking           bool            `json:"blocking"`
}
