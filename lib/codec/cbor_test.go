// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type buildEvent struct {
	Action     string    `cbor:"action"`
	Derivation string    `cbor:"derivation,omitempty"`
	Outputs    []string  `cbor:"outputs"`
	At         time.Time `cbor:"at"`
}

type buildEventV0 struct {
	Action  string   `cbor:"action"`
	Outputs []string `cbor:"outputs"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	t.Parallel()

	fields := map[string]any{
		"outputs":    []string{"/nix/store/abc-hello"},
		"action":     "build-complete",
		"derivation": "/nix/store/xyz-hello.drv",
	}
	first, err := Marshal(fields)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(fields)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("Marshal produced different bytes for the same map")
		}
	}
}

func TestTimePreservesNanoseconds(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 4, 5, 6, 7, 891011121, time.UTC)
	data, err := Marshal(buildEvent{Action: "build-complete", At: at})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded buildEvent
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.At.Equal(at) {
		t.Errorf("At = %v, want %v", decoded.At, at)
	}
}

func TestUnknownFieldsAreIgnored(t *testing.T) {
	t.Parallel()

	data, err := Marshal(buildEvent{
		Action:     "build-complete",
		Derivation: "/nix/store/xyz-hello.drv",
		Outputs:    []string{"/nix/store/abc-hello"},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var older buildEventV0
	if err := Unmarshal(data, &older); err != nil {
		t.Fatalf("Unmarshal into older struct: %v", err)
	}
	if older.Action != "build-complete" || len(older.Outputs) != 1 {
		t.Errorf("decoded = %+v", older)
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	encoder := NewEncoder(&stream)
	for _, action := range []string{"status", "replay"} {
		if err := encoder.Encode(map[string]any{"action": action}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&stream)
	for _, want := range []string{"status", "replay"} {
		var raw RawMessage
		if err := decoder.Decode(&raw); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		var header struct {
			Action string `cbor:"action"`
		}
		if err := Unmarshal(raw, &header); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if header.Action != want {
			t.Errorf("action = %q, want %q", header.Action, want)
		}
	}
}

func TestDiagnose(t *testing.T) {
	t.Parallel()

	data, err := Marshal(map[string]any{"action": "status"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"action": "status"`) {
		t.Errorf("Diagnose = %s", notation)
	}
}
