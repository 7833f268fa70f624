package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func echoTool() Func {
	return Func{
		Def: Definition{
			Name:        "echo",
			Description: "echoes its input",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		},
		Fn: func(_ context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, err
			}
			return Result{Content: in.Text}, nil
		},
	}
}

func TestRegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	h, ok := r.Get("echo")
	if !ok {
		t.Fatal("registered tool not found")
	}
	res, err := h.Execute(context.Background(), json.RawMessage(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "hello" || res.IsError {
		t.Errorf("result = %+v", res)
	}
}

func TestRegisterRejectsUnnamedAndBadSchema(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Func{Def: Definition{}}); err == nil {
		t.Error("expected error for unnamed tool")
	}
	bad := Func{Def: Definition{Name: "bad", InputSchema: json.RawMessage(`{"type":`)}}
	if err := r.Register(bad); err == nil {
		t.Error("expected error for malformed schema")
	}
}

func TestValidate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Validate("echo", json.RawMessage(`{"text":"ok"}`)); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := r.Validate("echo", json.RawMessage(`{"text":7}`)); err == nil {
		t.Error("wrong type accepted")
	}
	if err := r.Validate("echo", json.RawMessage(`{}`)); err == nil {
		t.Error("missing required field accepted")
	}
	if err := r.Validate("echo", json.RawMessage(`{broken`)); err == nil {
		t.Error("malformed JSON accepted")
	}
	// Tools without schemas and unknown tools pass.
	if err := r.Validate("unknown", json.RawMessage(`{}`)); err != nil {
		t.Errorf("unknown tool should pass validation: %v", err)
	}
}

func TestDefinitionsSortedAndClone(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		def := Definition{Name: name}
		if err := r.Register(Func{Def: def, Fn: func(context.Context, json.RawMessage) (Result, error) {
			return Result{}, nil
		}}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	names := r.Names()
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}

	clone := r.Clone()
	if len(clone.Names()) != 3 {
		t.Errorf("clone names = %v", clone.Names())
	}
	// Mutating the clone leaves the original untouched.
	if err := clone.Register(Func{Def: Definition{Name: "extra"}, Fn: func(context.Context, json.RawMessage) (Result, error) {
		return Result{}, nil
	}}); err != nil {
		t.Fatalf("Register on clone: %v", err)
	}
	if _, ok := r.Get("extra"); ok {
		t.Error("clone registration leaked into the original")
	}
}

func TestAllowList(t *testing.T) {
	policy := NewAllowList("echo")

	if d := policy.Check("echo", nil); !d.Allowed {
		t.Errorf("echo should be allowed: %+v", d)
	}
	d := policy.Check("shell", nil)
	if d.Allowed {
		t.Error("shell should be denied")
	}
	if d.Reason == "" {
		t.Error("denial should carry a reason")
	}
}
