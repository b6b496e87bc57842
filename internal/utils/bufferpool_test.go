package utils

import "testing"

func TestMarshalJSON(t *testing.T) {
	got, err := MarshalJSON(map[string]any{"credits": 250, "user_id": "u1"})
	if err != nil {
		t.Fatalf("MarshalJSON() error: %v", err)
	}
	if string(got) != `{"credits":250,"user_id":"u1"}` {
		t.Errorf("MarshalJSON() = %s", got)
	}

	// The returned slice must not alias a pooled buffer.
	again, err := MarshalJSON("x")
	if err != nil {
		t.Fatalf("MarshalJSON() error: %v", err)
	}
	if string(again) != `"x"` || string(got) != `{"credits":250,"user_id":"u1"}` {
		t.Errorf("buffers aliased: %s / %s", got, again)
	}
}

func TestMarshalJSON_Error(t *testing.T) {
	if _, err := MarshalJSON(make(chan int)); err == nil {
		t.Error("expected an error for an unsupported type")
	}
}
