package models

import "testing"

func TestRetrievalResult_Context(t *testing.T) {
	r := RetrievalResult{
		{ChunkID: 1, Text: "Dogs are mammals too.", Distance: 0.1},
		{ChunkID: 0, Text: "Cats are mammals.", Distance: 0.4},
	}
	if got := r.Context(); got != "Dogs are mammals too.\n\nCats are mammals." {
		t.Errorf("Context() = %q", got)
	}
	if got := RetrievalResult(nil).Context(); got != "" {
		t.Errorf("empty Context() = %q", got)
	}
}

func TestIndexState_Valid(t *testing.T) {
	for _, s := range []IndexState{StateEmpty, StateBuilding, StateReady, StateInvalid} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if IndexState("done").Valid() {
		t.Error("unknown state should be invalid")
	}
}

func TestCollectionRecord_HasSource(t *testing.T) {
	if (&CollectionRecord{ID: "1"}).HasSource() {
		t.Error("record without url or dir has no source")
	}
	if !(&CollectionRecord{ID: "1", SourceURL: "https://example.com"}).HasSource() {
		t.Error("record with url has a source")
	}
}
