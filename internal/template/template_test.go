package template

import (
	"reflect"
	"testing"
)

func TestRefs(t *testing.T) {
	refs := Refs("send {{inputs.message}} to {{steps.lookup.channel}}")
	want := []string{"inputs.message", "steps.lookup.channel"}
	if !reflect.DeepEqual(refs, want) {
		t.Errorf("Refs = %v, want %v", refs, want)
	}

	if refs := Refs("no placeholders here"); refs != nil {
		t.Errorf("expected nil, got %v", refs)
	}
}

func TestRefsInValue(t *testing.T) {
	args := map[string]any{
		"url":  "{{inputs.url}}",
		"body": map[string]any{"content": "{{inputs.message}}"},
		"tags": []any{"{{inputs.tag}}", "static"},
	}
	refs := RefsInValue(args)
	if len(refs) != 3 {
		t.Errorf("expected 3 refs, got %v", refs)
	}
}

func TestInterpolate(t *testing.T) {
	scope := map[string]any{
		"inputs": map[string]any{
			"message": "hello",
			"count":   float64(3),
			"flag":    true,
		},
		"steps": map[string]any{
			"resp": map[string]any{
				"status_code": float64(200),
				"items":       []any{map[string]any{"name": "first"}},
			},
		},
	}

	t.Run("whole-string placeholder keeps type", func(t *testing.T) {
		v, err := Interpolate("{{steps.resp.status_code}}", scope)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != float64(200) {
			t.Errorf("expected float64 200, got %T %v", v, v)
		}
	})

	t.Run("mixed template renders string", func(t *testing.T) {
		v, err := Interpolate("say {{inputs.message}} x{{inputs.count}}", scope)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != "say hello x3" {
			t.Errorf("got %q", v)
		}
	})

	t.Run("index access", func(t *testing.T) {
		v, err := Interpolate("{{steps.resp.items[0].name}}", scope)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != "first" {
			t.Errorf("got %v", v)
		}
	})

	t.Run("unresolved reference is an error", func(t *testing.T) {
		if _, err := Interpolate("{{inputs.missing}}", scope); err == nil {
			t.Error("expected error for unresolved reference")
		}
	})

	t.Run("plain string passes through", func(t *testing.T) {
		v, err := Interpolate("just text", scope)
		if err != nil || v != "just text" {
			t.Errorf("got %v, %v", v, err)
		}
	})
}

func TestInterpolateValue(t *testing.T) {
	scope := map[string]any{
		"inputs": map[string]any{"name": "ops", "limit": float64(5)},
	}
	args := map[string]any{
		"channel": "{{inputs.name}}",
		"options": map[string]any{"limit": "{{inputs.limit}}"},
		"labels":  []any{"{{inputs.name}}", "fixed"},
	}

	resolved, err := InterpolateValue(args, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := resolved.(map[string]any)
	if m["channel"] != "ops" {
		t.Errorf("channel = %v", m["channel"])
	}
	if m["options"].(map[string]any)["limit"] != float64(5) {
		t.Errorf("nested value lost its type: %v", m["options"])
	}
	if m["labels"].([]any)[0] != "ops" {
		t.Errorf("labels = %v", m["labels"])
	}
}

func TestResolvePath(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 42}},
		"list": []any{
			map[string]any{"x": "zero"},
			map[string]any{"x": "one"},
		},
	}

	if v, ok := ResolvePath(data, "a.b.c"); !ok || v != 42 {
		t.Errorf("a.b.c = %v, %v", v, ok)
	}
	if v, ok := ResolvePath(data, "list[1].x"); !ok || v != "one" {
		t.Errorf("list[1].x = %v, %v", v, ok)
	}
	if _, ok := ResolvePath(data, "a.missing"); ok {
		t.Error("expected miss for a.missing")
	}
	if _, ok := ResolvePath(data, "list[9].x"); ok {
		t.Error("expected miss for out-of-range index")
	}
}
