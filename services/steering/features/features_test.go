// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package features

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		nodeID string
		want   Ref
		wantOK bool
	}{
		{
			name:   "valid 2b node",
			nodeID: "gemma-2-2b:12:3456",
			want: Ref{
				ModelID: "gemma-2-2b",
				Layer:   12,
				Index:   3456,
				Source:  "12-gemmascope-res-16k",
			},
			wantOK: true,
		},
		{
			name:   "valid 9b node",
			nodeID: "gemma-2-9b:30:0",
			want: Ref{
				ModelID: "gemma-2-9b",
				Layer:   30,
				Index:   0,
				Source:  "30-gemmascope-9b-res-16k",
			},
			wantOK: true,
		},
		{
			name:   "unknown model",
			nodeID: "gpt2-small:5:100",
			wantOK: false,
		},
		{
			name:   "too few segments",
			nodeID: "gemma-2-2b:12",
			wantOK: false,
		},
		{
			name:   "too many segments",
			nodeID: "gemma-2-2b:12:34:56",
			wantOK: false,
		},
		{
			name:   "non-numeric layer",
			nodeID: "gemma-2-2b:twelve:3456",
			wantOK: false,
		},
		{
			name:   "non-numeric index",
			nodeID: "gemma-2-2b:12:abc",
			wantOK: false,
		},
		{
			name:   "layer out of range",
			nodeID: "gemma-2-2b:26:0",
			wantOK: false,
		},
		{
			name:   "negative layer",
			nodeID: "gemma-2-2b:-1:0",
			wantOK: false,
		},
		{
			name:   "index out of range",
			nodeID: "gemma-2-2b:12:16384",
			wantOK: false,
		},
		{
			name:   "negative index",
			nodeID: "gemma-2-2b:12:-5",
			wantOK: false,
		},
		{
			name:   "empty string",
			nodeID: "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.nodeID)
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.nodeID, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.nodeID, got, tt.want)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	id := NodeID("gemma-2-2b", 12, 100)
	ref, ok := Parse(id)
	if !ok {
		t.Fatalf("Parse(%q) failed", id)
	}
	if got := NodeID(ref.ModelID, ref.Layer, ref.Index); got != id {
		t.Errorf("round trip = %q, want %q", got, id)
	}
}

func TestLookup(t *testing.T) {
	t.Run("default model registered", func(t *testing.T) {
		m, ok := Lookup(DefaultModelID)
		if !ok {
			t.Fatalf("Lookup(%q) not found", DefaultModelID)
		}
		if m.NumLayers != 26 {
			t.Errorf("NumLayers = %d, want 26", m.NumLayers)
		}
		if m.FeaturesPerLayer != 16384 {
			t.Errorf("FeaturesPerLayer = %d, want 16384", m.FeaturesPerLayer)
		}
		if DefaultLayer < 0 || DefaultLayer >= m.NumLayers {
			t.Errorf("DefaultLayer %d outside model range", DefaultLayer)
		}
	})

	t.Run("unknown model", func(t *testing.T) {
		if _, ok := Lookup("nonexistent"); ok {
			t.Error("Lookup(nonexistent) = true, want false")
		}
	})
}

func TestModelsSorted(t *testing.T) {
	models := Models()
	if len(models) < 2 {
		t.Fatalf("Models() returned %d entries, want >= 2", len(models))
	}
	for i := 1; i < len(models); i++ {
		if models[i-1].ID >= models[i].ID {
			t.Errorf("Models() not sorted: %q before %q", models[i-1].ID, models[i].ID)
		}
	}
}

func TestSourceID(t *testing.T) {
	m, _ := Lookup("gemma-2-9b")
	if got := m.SourceID(7); got != "7-gemmascope-9b-res-16k" {
		t.Errorf("SourceID(7) = %q, want 7-gemmascope-9b-res-16k", got)
	}
}
