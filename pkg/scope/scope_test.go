// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scope

import "testing"

func TestScopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		scope   Scope
		wantErr bool
	}{
		{"stable x86_64", Scope{Stream: "stable", Basearch: "x86_64"}, false},
		{"testing aarch64", Scope{Stream: "testing", Basearch: "aarch64"}, false},
		{"devel stream with dots", Scope{Stream: "next-4.2", Basearch: "s390x"}, false},
		{"empty stream", Scope{Stream: "", Basearch: "x86_64"}, true},
		{"empty basearch", Scope{Stream: "stable", Basearch: ""}, true},
		{"uppercase stream", Scope{Stream: "Stable", Basearch: "x86_64"}, true},
		{"stream with slash", Scope{Stream: "stable/evil", Basearch: "x86_64"}, true},
		{"basearch with dash", Scope{Stream: "stable", Basearch: "x86-64"}, true},
		{"stream leading hyphen", Scope{Stream: "-stable", Basearch: "x86_64"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scope.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%v) error = %v, wantErr %v", tt.scope, err, tt.wantErr)
			}
		})
	}
}

func TestScopeString(t *testing.T) {
	s := Scope{Stream: "stable", Basearch: "x86_64"}
	if got := s.String(); got != "stable/x86_64" {
		t.Errorf("String() = %q, want %q", got, "stable/x86_64")
	}
}

func TestScopeAsMapKey(t *testing.T) {
	m := map[Scope]int{}
	m[Scope{Stream: "stable", Basearch: "x86_64"}] = 1
	m[Scope{Stream: "stable", Basearch: "aarch64"}] = 2

	if got := m[Scope{Stream: "stable", Basearch: "x86_64"}]; got != 1 {
		t.Errorf("map lookup = %d, want 1", got)
	}
	if len(m) != 2 {
		t.Errorf("expected 2 distinct keys, got %d", len(m))
	}
}
