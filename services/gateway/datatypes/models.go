// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// ModelInfo describes one configured LLM profile.
//
// Profiles whose environment variables could not be resolved are still
// listed, with Available set to false, so the UI can show them greyed out.
type ModelInfo struct {
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	BaseURL   string `json:"base_url"`
	Default   bool   `json:"default"`
	Available bool   `json:"available"`
}

// ModelsListResponse is the GET /v2/models response body.
//
// Models are grouped by provider; Providers preserves the order in which
// providers first appear in settings.yaml.
type ModelsListResponse struct {
	Models    map[string][]ModelInfo `json:"models"`
	Providers []string               `json:"providers"`
}

// InfoResponse is the GET /v2/info response body.
type InfoResponse struct {
	ProfileName string `json:"profile_name"`
	Provider    string `json:"provider"`
	Agent       string `json:"agent"`
}
