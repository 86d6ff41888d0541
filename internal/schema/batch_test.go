package schema

import (
	"testing"
	"time"
)

// TestInfer_Kinds checks that column kinds come from the first non-nil
// value in each column.
func TestInfer_Kinds(t *testing.T) {
	b, err := Infer(
		[]string{"code", "close", "volume", "ts"},
		[][]any{
			{"600000.SH", nil, int64(1000), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
			{"600001.SH", 10.5, int64(2000), time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
		},
	)
	if err != nil {
		t.Fatalf("Infer() failed: %v", err)
	}

	want := []Kind{KindString, KindFloat, KindInt, KindTime}
	for i, k := range want {
		if b.Columns[i].Kind != k {
			t.Errorf("column %s kind = %v, want %v", b.Columns[i].Name, b.Columns[i].Kind, k)
		}
	}
}

// TestInfer_DefaultsToString checks that a column with no values is typed
// as a string.
func TestInfer_DefaultsToString(t *testing.T) {
	b, err := Infer([]string{"a"}, [][]any{{nil}})
	if err != nil {
		t.Fatalf("Infer() failed: %v", err)
	}
	if b.Columns[0].Kind != KindString {
		t.Errorf("kind = %v, want KindString", b.Columns[0].Kind)
	}
}

// TestInfer_RowWidthMismatch checks that a ragged row is rejected.
func TestInfer_RowWidthMismatch(t *testing.T) {
	_, err := Infer([]string{"a", "b"}, [][]any{{"only one"}})
	if err == nil {
		t.Fatal("Infer() accepted a ragged row")
	}
}

// TestInfer_UnsupportedType checks that a non-scalar value is rejected.
func TestInfer_UnsupportedType(t *testing.T) {
	_, err := Infer([]string{"a"}, [][]any{{[]byte("nope")}})
	if err == nil {
		t.Fatal("Infer() accepted an unsupported value type")
	}
}

// TestCoerceFloat converts string columns to floats, nils out garbage, and
// leaves unrelated columns alone.
func TestCoerceFloat(t *testing.T) {
	b, err := Infer(
		[]string{"code", "close"},
		[][]any{
			{"600000.SH", "10.5"},
			{"600001.SH", " 11.25 "},
			{"600002.SH", "n/a"},
		},
	)
	if err != nil {
		t.Fatalf("Infer() failed: %v", err)
	}

	b.CoerceFloat("close")

	if b.Columns[1].Kind != KindFloat {
		t.Errorf("close kind = %v, want KindFloat", b.Columns[1].Kind)
	}
	if b.Rows[0][1] != 10.5 || b.Rows[1][1] != 11.25 {
		t.Errorf("coerced values = %v, %v; want 10.5, 11.25", b.Rows[0][1], b.Rows[1][1])
	}
	if b.Rows[2][1] != nil {
		t.Errorf("unparseable value = %v, want nil", b.Rows[2][1])
	}
	if b.Rows[0][0] != "600000.SH" {
		t.Errorf("untouched column changed: %v", b.Rows[0][0])
	}
}

// TestBatch_Column checks name lookup.
func TestBatch_Column(t *testing.T) {
	b := &Batch{Columns: []Column{{Name: "a"}, {Name: "b"}}}
	if got := b.Column("b"); got != 1 {
		t.Errorf("Column(b) = %d, want 1", got)
	}
	if got := b.Column("missing"); got != -1 {
		t.Errorf("Column(missing) = %d, want -1", got)
	}
}

// TestWorkUnit_Param checks the default fallback.
func TestWorkUnit_Param(t *testing.T) {
	u := WorkUnit{ID: "600000.SH", Params: map[string]string{"start": "20190101"}}
	if got := u.Param("start", "x"); got != "20190101" {
		t.Errorf("Param(start) = %q, want 20190101", got)
	}
	if got := u.Param("end", "20240101"); got != "20240101" {
		t.Errorf("Param(end) = %q, want default", got)
	}
}
