package http

import "testing"

func TestWSSubject(t *testing.T) {
	tests := []struct {
		channel, runID string
		want           string
		ok             bool
	}{
		{"", "", "scene.runs.>", true},
		{"runs", "r1", "scene.runs.r1", true},
		{"transmitters", "", "scene.transmitters.>", true},
		{"transmitters", "r1", "scene.transmitters.r1", true},
		{"vehicles", "", "", false},
	}
	for _, tt := range tests {
		got, ok := wsSubject(tt.channel, tt.runID)
		if got != tt.want || ok != tt.ok {
			t.Errorf("wsSubject(%q, %q) = %q, %v; want %q, %v", tt.channel, tt.runID, got, ok, tt.want, tt.ok)
		}
	}
}
