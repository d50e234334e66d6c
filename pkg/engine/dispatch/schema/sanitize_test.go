package schema

import "testing"

func TestInferObject(t *testing.T) {
	s := Sanitize(&Schema{Properties: map[string]*Schema{"x": {}}})
	if s.Type != "object" {
		t.Fatalf("want object, got %q", s.Type)
	}
	if s.Properties["x"].Type != "string" {
		t.Fatalf("nested property should default to string, got %q", s.Properties["x"].Type)
	}
}

func TestInferArray(t *testing.T) {
	s := Sanitize(&Schema{Items: &Schema{Enum: []any{"a", "b"}}})
	if s.Type != "array" {
		t.Fatalf("want array, got %q", s.Type)
	}
	if s.Items.Type != "string" {
		t.Fatalf("enum item should infer string, got %q", s.Items.Type)
	}
}

func TestInferStringFromEnum(t *testing.T) {
	s := Sanitize(&Schema{Enum: []any{"a"}})
	if s.Type != "string" {
		t.Fatalf("want string, got %q", s.Type)
	}
}

func TestExplicitTypePreserved(t *testing.T) {
	s := Sanitize(&Schema{Type: "number"})
	if s.Type != "number" {
		t.Fatalf("want number preserved, got %q", s.Type)
	}
}

func TestActionSchema(t *testing.T) {
	s := ActionSchema(map[string]*Schema{
		"create": {Properties: map[string]*Schema{"task": {}}},
		"wait":   {Properties: map[string]*Schema{"agent_id": {}}},
	})
	if s.Type != "object" {
		t.Fatalf("want object envelope, got %q", s.Type)
	}
	action := s.Properties["action"]
	if action.Type != "string" || len(action.Enum) != 2 {
		t.Fatalf("action enum malformed: %+v", action)
	}
	if s.Properties["create"].Properties["task"].Type != "string" {
		t.Fatalf("create.task should sanitize to string")
	}
}
