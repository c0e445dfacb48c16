package wire_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/wire"
)

func TestStatusString(t *testing.T) {
	cases := map[wire.Status]string{
		wire.StatusSuccess:        "SUCCESS",
		wire.StatusSignal:         "SIGNAL",
		wire.StatusInternalError:  "INTERNAL_ERROR",
		wire.StatusNotExecutable:  "NOT_EXECUTABLE",
		wire.StatusInvalidRequest: "INVALID_REQUEST",
		wire.StatusMissingFiles:   "MISSING_FILES",
		wire.StatusOverloaded:     "OVERLOADED",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", int(status), got, want)
		}
	}
}

func baseRequest() wire.Request {
	return wire.Request{
		ID:         "req-1",
		Executable: "/usr/bin/cc",
		Args:       []string{"-o", "a.out", "main.c"},
		Input: []wire.FileInfo{
			{Name: "main.c", Hash: hashid.Sum([]byte("int main(){}"))},
			{Name: "lib.c", Hash: hashid.Sum([]byte("void f(){}")), Executable: true},
		},
		Output:        []wire.FileInfo{{Name: "a.out"}},
		ResourceLimit: wire.ResourceLimit{CPUTime: 10, WallTime: 20, Memory: 256 * 1024},
	}
}

func TestFingerprintStableUnderInputReorder(t *testing.T) {
	a := baseRequest()
	b := baseRequest()
	b.Input[0], b.Input[1] = b.Input[1], b.Input[0]

	if diff := cmp.Diff(a.Fingerprint(""), b.Fingerprint("")); diff != "" {
		t.Errorf("fingerprint changed under input reorder (-a +b):\n%s", diff)
	}
}

func TestFingerprintIgnoresOutputNames(t *testing.T) {
	a := baseRequest()
	b := baseRequest()
	b.Output = []wire.FileInfo{{Name: "different.out"}}

	if diff := cmp.Diff(a.Fingerprint(""), b.Fingerprint("")); diff != "" {
		t.Errorf("fingerprint should ignore output names (-a +b):\n%s", diff)
	}
}

func TestFingerprintDiffersByExecutorWhenCachingSameExecutor(t *testing.T) {
	req := baseRequest()
	if cmp.Equal(req.Fingerprint("worker-a"), req.Fingerprint("worker-b")) {
		t.Error("expected distinct fingerprints for distinct executor ids")
	}
}

func TestFingerprintDiffersOnInputHashChange(t *testing.T) {
	a := baseRequest()
	b := baseRequest()
	b.Input[0].Hash = hashid.Sum([]byte("changed"))

	if cmp.Equal(a.Fingerprint(""), b.Fingerprint("")) {
		t.Error("expected distinct fingerprints when an input hash changes")
	}
}
