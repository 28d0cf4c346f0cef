package patch

import (
	"errors"
	"reflect"
	"testing"
)

func sampleNode() map[string]any {
	return map[string]any{
		"id":   "n1",
		"posX": 10.0,
		"rows": []any{
			map[string]any{"identifier": "a", "label": "first"},
			map[string]any{"identifier": "b", "label": "second"},
		},
		"style": map[string]any{"color": "red"},
	}
}

func TestValidate(t *testing.T) {
	a := JSONApplier{}
	tests := []struct {
		name    string
		patch   Patch
		wantErr error
	}{
		{"set field", Patch{P: []any{"posX"}, V: 1.0}, nil},
		{"set nested index", Patch{P: []any{"rows", 0.0, "label"}, V: "x"}, nil},
		{"unknown op", Patch{P: []any{"posX"}, Op: "swap"}, ErrInvalidOp},
		{"fractional index", Patch{P: []any{"rows", 1.5}}, ErrInvalidPath},
		{"bool step", Patch{P: []any{true}}, ErrInvalidPath},
		{"append marker outside insert", Patch{P: []any{"rows", "-"}, V: 1.0}, ErrInvalidPath},
		{"append marker not last", Patch{P: []any{"rows", "-", "x"}, Op: OpInsert}, ErrInvalidPath},
		{"remove root", Patch{Op: OpRemove}, ErrInvalidPath},
		{"merge scalar", Patch{P: []any{"style"}, V: 3.0, Op: OpMerge}, ErrInvalidValue},
		{"replace root with scalar", Patch{V: "x"}, ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Validate(tt.patch)
			if tt.wantErr == nil && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestApply_SetLeavesTargetUntouched(t *testing.T) {
	target := sampleNode()
	res := JSONApplier{}.Apply(target, Patch{P: []any{"posX"}, V: 120.0}, nil)

	if !res.Success {
		t.Fatalf("Expected success, got %v", res.Err)
	}
	if res.Value["posX"] != 120.0 {
		t.Errorf("Expected posX 120, got %v", res.Value["posX"])
	}
	if target["posX"] != 10.0 {
		t.Errorf("Expected original target unchanged, got %v", target["posX"])
	}
}

func TestApply_SetNested(t *testing.T) {
	res := JSONApplier{}.Apply(sampleNode(), Patch{P: []any{"rows", 1.0, "label"}, V: "renamed"}, nil)
	if !res.Success {
		t.Fatalf("Expected success, got %v", res.Err)
	}
	row := res.Value["rows"].([]any)[1].(map[string]any)
	if row["label"] != "renamed" {
		t.Errorf("Expected renamed label, got %v", row["label"])
	}
}

func TestApply_MissingPath(t *testing.T) {
	res := JSONApplier{}.Apply(sampleNode(), Patch{P: []any{"nope", "x"}, V: 1.0}, nil)
	if res.Success || !errors.Is(res.Err, ErrPathNotFound) {
		t.Errorf("Expected ErrPathNotFound, got %+v", res)
	}
	res = JSONApplier{}.Apply(sampleNode(), Patch{P: []any{"rows", 7.0}, V: 1.0}, nil)
	if res.Success || !errors.Is(res.Err, ErrPathNotFound) {
		t.Errorf("Expected ErrPathNotFound for out of range index, got %+v", res)
	}
}

func TestApply_Insert(t *testing.T) {
	a := JSONApplier{}
	row := map[string]any{"identifier": "c"}

	res := a.Apply(sampleNode(), Patch{P: []any{"rows", 0.0}, V: row, Op: OpInsert}, nil)
	if !res.Success {
		t.Fatalf("Expected success, got %v", res.Err)
	}
	rows := res.Value["rows"].([]any)
	if len(rows) != 3 || rows[0].(map[string]any)["identifier"] != "c" {
		t.Errorf("Expected new row first, got %v", rows)
	}

	res = a.Apply(sampleNode(), Patch{P: []any{"rows", AppendIndex}, V: row, Op: OpInsert}, nil)
	rows = res.Value["rows"].([]any)
	if len(rows) != 3 || rows[2].(map[string]any)["identifier"] != "c" {
		t.Errorf("Expected new row last, got %v", rows)
	}

	res = a.Apply(sampleNode(), Patch{P: []any{"rows"}, V: row, Op: OpInsert}, nil)
	if !res.Success || len(res.Value["rows"].([]any)) != 3 {
		t.Errorf("Expected append through the field name, got %+v", res)
	}

	// the inserted value must be a copy of the patch payload
	row["identifier"] = "mutated later"
	if rows[2].(map[string]any)["identifier"] != "c" {
		t.Error("Expected inserted value to be detached from the patch")
	}
}

func TestApply_Remove(t *testing.T) {
	res := JSONApplier{}.Apply(sampleNode(), Patch{P: []any{"rows", 0.0}, Op: OpRemove}, nil)
	if !res.Success {
		t.Fatalf("Expected success, got %v", res.Err)
	}
	rows := res.Value["rows"].([]any)
	if len(rows) != 1 || rows[0].(map[string]any)["identifier"] != "b" {
		t.Errorf("Expected only row b left, got %v", rows)
	}

	res = JSONApplier{}.Apply(sampleNode(), Patch{P: []any{"style"}, Op: OpRemove}, nil)
	if _, ok := res.Value["style"]; ok {
		t.Error("Expected style to be removed")
	}
}

func TestApply_Merge(t *testing.T) {
	res := JSONApplier{}.Apply(sampleNode(), Patch{P: []any{"style"}, V: map[string]any{"width": 2.0}, Op: OpMerge}, nil)
	if !res.Success {
		t.Fatalf("Expected success, got %v", res.Err)
	}
	want := map[string]any{"color": "red", "width": 2.0}
	if !reflect.DeepEqual(res.Value["style"], want) {
		t.Errorf("Expected %v, got %v", want, res.Value["style"])
	}
}

func TestApply_RootReplace(t *testing.T) {
	res := JSONApplier{}.Apply(sampleNode(), Patch{V: map[string]any{"id": "n1", "posX": 1.0}}, nil)
	if !res.Success || len(res.Value) != 2 {
		t.Errorf("Expected replaced object, got %+v", res)
	}
}

func TestApply_GuardCandidate(t *testing.T) {
	var seen []any
	guard := func(c map[string]any) bool {
		seen = append(seen, c["identifier"], c["id"])
		return c["identifier"] == "b" || c["id"] == "n1"
	}
	a := JSONApplier{}

	// field of a row: the row itself is the candidate
	if res := a.Apply(sampleNode(), Patch{P: []any{"rows", 1.0, "label"}, V: "x"}, guard); !res.Success {
		t.Errorf("Expected row b to pass the guard, got %v", res.Err)
	}
	// replacing a row: the existing row is the candidate
	if res := a.Apply(sampleNode(), Patch{P: []any{"rows", 0.0}, V: map[string]any{}}, guard); !errors.Is(res.Err, ErrGuardRejected) {
		t.Errorf("Expected row a to be rejected, got %+v", res)
	}
	// scalar field of the node: the node is the candidate
	if res := a.Apply(sampleNode(), Patch{P: []any{"posX"}, V: 1.0}, guard); !res.Success {
		t.Errorf("Expected node to pass the guard, got %v", res.Err)
	}
	// insert into rows: the owning node is the candidate
	if res := a.Apply(sampleNode(), Patch{P: []any{"rows", 0.0}, V: 1.0, Op: OpInsert}, guard); !res.Success {
		t.Errorf("Expected insert to be checked against the node, got %v", res.Err)
	}
	if len(seen) == 0 {
		t.Error("Expected the guard to be consulted")
	}
}

func TestInserted(t *testing.T) {
	v := map[string]any{"identifier": "x"}
	if Inserted(Patch{P: []any{"rows"}, V: v, Op: OpInsert}) == nil {
		t.Error("Expected insert payload")
	}
	if Inserted(Patch{P: []any{"rows", 0.0}, Op: OpRemove}) != nil {
		t.Error("Expected no payload for remove")
	}
}
