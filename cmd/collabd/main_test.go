package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dd0wney/cluso-collab/pkg/store/memory"
)

func TestSeed(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{"single document", `{"key":"g1","sheets":[{"id":"s1","nodes":[{"id":"n1"}]}]}`, 1, false},
		{"array", `[{"key":"g1"},{"key":"g2"}]`, 2, false},
		{"missing key", `[{"key":"g1"},{"sheets":[]}]`, 1, true},
		{"not json", `key: g1`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "seed.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}

			store := memory.New()
			got, err := seed(context.Background(), store, path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("seeded %d, want %d", got, tt.want)
			}
			if tt.want > 0 {
				if _, err := store.LoadGraph(context.Background(), "g1"); err != nil {
					t.Errorf("g1 not stored: %v", err)
				}
			}
		})
	}
}
