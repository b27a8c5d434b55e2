package wire

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeAuthSequence(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"auth_required","ha_version":"2024.6.1"}`))
	if err != nil {
		t.Fatalf("Decode auth_required: %v", err)
	}
	if msg.Type != TypeAuthRequired {
		t.Errorf("Type = %q, want %q", msg.Type, TypeAuthRequired)
	}
	if msg.HAVersion != "2024.6.1" {
		t.Errorf("HAVersion = %q, want 2024.6.1", msg.HAVersion)
	}

	msg, err = Decode([]byte(`{"type":"auth_invalid","message":"Invalid access token"}`))
	if err != nil {
		t.Fatalf("Decode auth_invalid: %v", err)
	}
	if msg.Message != "Invalid access token" {
		t.Errorf("Message = %q", msg.Message)
	}
}

func TestDecodeResult(t *testing.T) {
	raw := `{"id":7,"type":"result","success":true,"result":[{"entity_id":"sensor.a","state":"1"}]}`
	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode result: %v", err)
	}
	if msg.ID != 7 {
		t.Errorf("ID = %d, want 7", msg.ID)
	}
	if msg.Success == nil || !*msg.Success {
		t.Error("Success should be true")
	}

	var states []State
	if err := json.Unmarshal(msg.Result, &states); err != nil {
		t.Fatalf("unmarshal result payload: %v", err)
	}
	if len(states) != 1 || states[0].EntityID != "sensor.a" {
		t.Errorf("states = %+v", states)
	}
}

func TestDecodeEvent(t *testing.T) {
	raw := `{"id":2,"type":"event","event":{"event_type":"state_changed","data":{
		"entity_id":"sensor.abc_target_1_x",
		"old_state":{"entity_id":"sensor.abc_target_1_x","state":"100"},
		"new_state":{"entity_id":"sensor.abc_target_1_x","state":"250"}}}}`
	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode event: %v", err)
	}
	if msg.Event == nil {
		t.Fatal("Event is nil")
	}
	if msg.Event.EventType != EventStateChanged {
		t.Errorf("EventType = %q", msg.Event.EventType)
	}
	if msg.Event.Data.NewState == nil || msg.Event.Data.NewState.State != "250" {
		t.Errorf("NewState = %+v", msg.Event.Data.NewState)
	}
	if msg.Event.Data.OldState == nil || msg.Event.Data.OldState.State != "100" {
		t.Errorf("OldState = %+v", msg.Event.Data.OldState)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"pong"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		`{not json`,
		`{"id":1}`,
		`[]`,
	}
	for _, raw := range cases {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) err = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestCommandMarshalFlattensPayload(t *testing.T) {
	cmd := SubscribeEvents(3)
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if obj["id"] != float64(3) {
		t.Errorf("id = %v, want 3", obj["id"])
	}
	if obj["type"] != CmdSubscribeEvents {
		t.Errorf("type = %v", obj["type"])
	}
	if obj["event_type"] != EventStateChanged {
		t.Errorf("event_type = %v (payload not flattened)", obj["event_type"])
	}
}

func TestCallServiceCommand(t *testing.T) {
	cmd := CallService(9, "number", "set_value",
		map[string]any{"value": 1500},
		map[string]any{"entity_id": "number.abc_zone_1_begin_x"})
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if obj["domain"] != "number" || obj["service"] != "set_value" {
		t.Errorf("domain/service = %v/%v", obj["domain"], obj["service"])
	}
	if _, ok := obj["service_data"]; !ok {
		t.Error("service_data missing")
	}
	if _, ok := obj["target"]; !ok {
		t.Error("target missing")
	}
}

func TestDeviceEntryDisplayName(t *testing.T) {
	d := DeviceEntry{Name: "EPL 1234", NameByUser: "Hallway Sensor"}
	if got := d.DisplayName(); got != "Hallway Sensor" {
		t.Errorf("DisplayName = %q", got)
	}
	d.NameByUser = ""
	if got := d.DisplayName(); got != "EPL 1234" {
		t.Errorf("DisplayName = %q", got)
	}
}
