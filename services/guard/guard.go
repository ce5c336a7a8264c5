// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guard screens outbound chat messages before they reach a
// remote model provider. Detection rules are baked into the binary so
// they cannot be edited out on the host without recompiling.
package guard

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed outbound_patterns.yaml
var outboundPatterns []byte

// Guard scans message content against the embedded rule set.
type Guard struct {
	classifications []Classification
}

// New parses and compiles the embedded rules, sorted by priority.
func New() (*Guard, error) {
	var file guardPatternFile
	if err := yaml.Unmarshal(outboundPatterns, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded guard rules: %w", err)
	}
	if err := file.compileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a guard regex: %w", err)
	}
	file.sortByPriority()
	return &Guard{classifications: file.Classifications}, nil
}

// ScanMessage checks content against every rule and reports all matches,
// highest-priority classification first. Matched content is truncated so
// findings can be logged without reproducing the secret.
func (g *Guard) ScanMessage(content string) []Finding {
	var findings []Finding
	for _, class := range g.classifications {
		for _, pattern := range class.Patterns {
			match := pattern.compiled.FindString(content)
			if match == "" {
				continue
			}
			findings = append(findings, Finding{
				ClassificationName: class.Name,
				PatternId:          pattern.Id,
				PatternDescription: pattern.Description,
				MatchedContent:     truncateMatch(match),
				Confidence:         pattern.Confidence,
				Blocking:           class.Block,
			})
		}
	}
	return findings
}

// CheckOutbound returns the first blocking finding, if any. Non-blocking
// findings never stop a message.
func (g *Guard) CheckOutbound(content string) (Finding, bool) {
	for _, f := range g.ScanMessage(content) {
		if f.Blocking {
			return f, true
		}
	}
	return Finding{}, false
}

func truncateMatch(match string) string {
	const keep = 12
	if len(match) <= keep {
		return match
	}
	return match[:keep] + "..."
}
