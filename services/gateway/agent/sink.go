// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import "github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"

// EventSink receives agent progress as it happens. The chat handler
// implements this over SSE; tests implement it over slices. A sink error
// aborts the run, which is how client disconnects stop generation.
type EventSink interface {
	Token(content string) error
	NodeStart(name string) error
	NodeEnd(name string) error
	ToolStart(name, input string) error
	ToolEnd(name, output string) error
	PlanCreated(plan []datatypes.PlanStep) error
	PlanStepCompleted(stepNumber int, description string) error
}

// NopSink discards every event. Useful for non-streaming callers.
type NopSink struct{}

func (NopSink) Token(string) error                     { return nil }
func (NopSink) NodeStart(string) error                 { return nil }
func (NopSink) NodeEnd(string) error                   { return nil }
func (NopSink) ToolStart(string, string) error         { return nil }
func (NopSink) ToolEnd(string, string) error           { return nil }
func (NopSink) PlanCreated([]datatypes.PlanStep) error { return nil }
func (NopSink) PlanStepCompleted(int, string) error    { return nil }
