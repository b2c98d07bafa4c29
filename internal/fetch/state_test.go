package fetch

import "testing"

func TestBitfieldRoundTrip(t *testing.T) {
	completed := map[int]bool{0: true, 2: true, 5: true, 9: true}
	bitfield := completedPartsToBitfield(completed, 10)
	got := bitfieldToCompletedParts(bitfield, 10)

	if len(got) != len(completed) {
		t.Fatalf("expected %d completed parts, got %d", len(completed), len(got))
	}
	for id := range completed {
		if !got[id] {
			t.Fatalf("expected part %d to be marked complete", id)
		}
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	completed := map[int]bool{1: true, 3: true}
	raw := serializeState(completed, 4, 1024, "etag-1", "Mon, 01 Jan 2024 00:00:00 GMT")

	got, etag, lastModified, ok := deserializeState(raw)
	if !ok {
		t.Fatal("expected deserializeState to succeed")
	}
	if etag != "etag-1" || lastModified != "Mon, 01 Jan 2024 00:00:00 GMT" {
		t.Fatalf("validators not preserved: etag=%s lastModified=%s", etag, lastModified)
	}
	if len(got) != 2 || !got[1] || !got[3] {
		t.Fatalf("completed parts not preserved: %v", got)
	}
}

func TestDeserializeStateEmptyMeta(t *testing.T) {
	completed, etag, lastModified, ok := deserializeState("")
	if ok || completed != nil || etag != "" || lastModified != "" {
		t.Fatalf("expected zero-value result for empty metadata, got %v %q %q %v", completed, etag, lastModified, ok)
	}
}

func TestValidateResumeState(t *testing.T) {
	if !validateResumeState("", "", "etag-new", "") {
		t.Fatal("expected no-prior-validators state to always validate")
	}
	if !validateResumeState("etag-1", "", "etag-1", "") {
		t.Fatal("expected matching etag to validate")
	}
	if validateResumeState("etag-1", "", "etag-2", "") {
		t.Fatal("expected mismatched etag to invalidate")
	}
}
