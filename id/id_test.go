package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/genqueue/id"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		prefix string
		newFn  func() id.ID
		parse  func(string) (id.ID, error)
	}{
		{"job", id.NewJobID, id.ParseJobID},
		{"wkr", id.NewWorkerID, id.ParseWorkerID},
		{"txn", id.NewTxnID, id.ParseTxnID},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			v := tt.newFn()
			s := v.String()
			if !strings.HasPrefix(s, tt.prefix+"_") || len(s) != len(tt.prefix)+1+32 {
				t.Fatalf("malformed id %q", s)
			}
			if string(v.Prefix()) != tt.prefix {
				t.Fatalf("Prefix() = %q", v.Prefix())
			}

			back, err := tt.parse(s)
			if err != nil || back.String() != s {
				t.Fatalf("parse(%q) = %q, %v", s, back, err)
			}

			// Each parser accepts only its own kind.
			for _, other := range tests {
				if other.prefix == tt.prefix {
					continue
				}
				if _, err := other.parse(s); err == nil {
					t.Errorf("%s parser accepted %q", other.prefix, s)
				}
			}
		})
	}
}

func TestParse(t *testing.T) {
	const hex = "9f3c0d3a5b8e4e0f9a1c2b3d4e5f6a7b"
	tests := []struct {
		name  string
		input string
		want  string // "" means the parse must fail
	}{
		{"canonical", "job_" + hex, "job_" + hex},
		{"hyphenated suffix", "job_9f3c0d3a-5b8e-4e0f-9a1c-2b3d4e5f6a7b", "job_" + hex},
		{"empty", "", ""},
		{"no separator", "job" + hex, ""},
		{"empty suffix", "job_", ""},
		{"empty prefix", "_" + hex, ""},
		{"uppercase prefix", "JOB_" + hex, ""},
		{"digit in prefix", "j0b_" + hex, ""},
		{"short suffix", "job_1234", ""},
		{"non-hex suffix", "job_zz3c0d3a5b8e4e0f9a1c2b3d4e5f6a7b", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := id.Parse(tt.input)
			switch {
			case tt.want == "" && err == nil:
				t.Fatalf("Parse(%q) = %q, want error", tt.input, got)
			case tt.want != "" && err != nil:
				t.Fatalf("Parse(%q): %v", tt.input, err)
			case tt.want != "" && got.String() != tt.want:
				t.Fatalf("Parse(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("MustParse did not panic")
		}
	}()
	id.MustParse("not-an-id")
}

func TestZeroValue(t *testing.T) {
	var v id.ID
	if !v.IsNil() || v.String() != "" || v.Prefix() != "" {
		t.Fatalf("zero ID = %q (prefix %q)", v, v.Prefix())
	}
	if val, err := v.Value(); err != nil || val != nil {
		t.Fatalf("Value() = %v, %v; want NULL", val, err)
	}
}

// A status document as printed by the CLI carries IDs as strings and an
// unset worker as "".
func TestJSONInDocument(t *testing.T) {
	type doc struct {
		JobID    id.JobID    `json:"job_id"`
		WorkerID id.WorkerID `json:"worker_id"`
	}

	in := doc{JobID: id.NewJobID()}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"worker_id":""`) {
		t.Errorf("unset worker not rendered empty: %s", raw)
	}

	var out doc
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.JobID.String() != in.JobID.String() || !out.WorkerID.IsNil() {
		t.Fatalf("round trip = %+v", out)
	}

	if err := json.Unmarshal([]byte(`{"job_id":"wkr_`+strings.Repeat("a", 32)+`"}`), &out); err != nil {
		t.Fatalf("a well-formed id of any kind decodes: %v", err)
	}
	if err := json.Unmarshal([]byte(`{"job_id":"nope"}`), &out); err == nil {
		t.Fatal("malformed id decoded without error")
	}
}

func TestScan(t *testing.T) {
	want := id.NewTxnID()
	val, _ := want.Value()

	for _, src := range []any{val, []byte(want.String())} {
		var got id.ID
		if err := got.Scan(src); err != nil || got.String() != want.String() {
			t.Fatalf("Scan(%T) = %q, %v", src, got, err)
		}
	}
	for _, src := range []any{nil, "", []byte{}} {
		got := id.NewTxnID()
		if err := got.Scan(src); err != nil || !got.IsNil() {
			t.Fatalf("Scan(%#v) = %q, %v; want nil ID", src, got, err)
		}
	}
	var got id.ID
	if err := got.Scan(int64(42)); err == nil {
		t.Fatal("Scan(int64) should fail")
	}
}

func TestUnguessable(t *testing.T) {
	seen := make(map[string]struct{}, 2000)
	for range 2000 {
		s := id.NewJobID().String()
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate ID %q", s)
		}
		seen[s] = struct{}{}
	}

	// Consecutive IDs share no common prefix beyond the kind, unlike
	// time-ordered IDs.
	a, b := id.NewJobID().String(), id.NewJobID().String()
	if a[:12] == b[:12] {
		t.Fatalf("consecutive ids look sequential: %q %q", a, b)
	}
}
