package protocol_test

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"lockstep.ai/internal/protocol"
)

func TestSchemas_ObservationSample(t *testing.T) {
	obs := protocol.Observation{
		PlayerX:            12.5,
		PlayerY:            -3,
		PlayerDied:         false,
		ReachedNextRoom:    true,
		TargetX:            2000,
		TargetY:            60,
		ScreenWidth:        2,
		ScreenHeight:       1,
		ScreenPixelsBase64: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4, 5, 6, 7, 8}),
		LevelName:          "0",
	}
	b, err := json.Marshal(obs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := protocol.ValidateObservation(v); err != nil {
		t.Fatalf("validate: %v", err)
	}

	m := v.(map[string]any)
	for _, k := range []string{
		"playerXPosition", "playerYPosition", "playerDied", "playerReachedNextRoom",
		"targetXPosition", "targetYPosition", "screenWidth", "screenHeight",
		"screenPixelsBase64", "levelName",
	} {
		if _, ok := m[k]; !ok {
			t.Fatalf("observation missing key %q", k)
		}
	}
	if len(m) != 10 {
		t.Fatalf("observation has %d keys, want 10", len(m))
	}
}

func TestSchemas_ObservationRejectsExtraKeys(t *testing.T) {
	var v any
	_ = json.Unmarshal([]byte(`{
	  "playerXPosition":0,"playerYPosition":0,"playerDied":false,"playerReachedNextRoom":false,
	  "targetXPosition":0,"targetYPosition":0,"screenWidth":0,"screenHeight":0,
	  "screenPixelsBase64":"","levelName":"a","tick":3
	}`), &v)
	if err := protocol.ValidateObservation(v); err == nil {
		t.Fatalf("expected schema rejection for unknown key")
	}
}

func TestObservationPixels(t *testing.T) {
	o := protocol.Observation{ScreenWidth: 1, ScreenHeight: 1, ScreenPixelsBase64: base64.StdEncoding.EncodeToString([]byte{9, 8, 7, 6})}
	px, err := o.Pixels()
	if err != nil {
		t.Fatalf("Pixels: %v", err)
	}
	if len(px) != 4 || px[0] != 9 || px[3] != 6 {
		t.Fatalf("unexpected pixels: %v", px)
	}

	o.ScreenWidth = 2
	if _, err := o.Pixels(); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}
