package api

import (
	"net/url"
	"testing"
)

func noopHandler(*requestContext, url.Values) {}

func TestAddEndpointRequiresLeadingSlash(t *testing.T) {
	rt := newRouter()
	if err := rt.addEndpoint("move", noopHandler, "POST"); err == nil {
		t.Error("registering a route without a leading '/' should fail")
	}
}

func TestResolveStripsTrailingSlash(t *testing.T) {
	rt := newRouter()
	if err := rt.addEndpoint("/touch/", noopHandler, "POST"); err != nil {
		t.Fatalf("addEndpoint: %v", err)
	}
	if _, ok := rt.resolve("/touch"); !ok {
		t.Error("route registered with a trailing slash should resolve without it")
	}
}

func TestAddSpecialEndpointValidation(t *testing.T) {
	rt := newRouter()

	if err := rt.addSpecialEndpoint("/screen", noopHandler, "GET"); err == nil {
		t.Error("a special route without a placeholder should fail")
	}
	if err := rt.addSpecialEndpoint("/{id}", noopHandler, "GET"); err == nil {
		t.Error("a special route with a bare '/' prefix should fail")
	}
	if err := rt.addSpecialEndpoint("/screen/{}", noopHandler, "GET"); err == nil {
		t.Error("an empty placeholder name should fail")
	}
	if err := rt.addSpecialEndpoint("/screen/{id", noopHandler, "GET"); err == nil {
		t.Error("an unterminated placeholder should fail")
	}
	if err := rt.addSpecialEndpoint("/screen/{a}{b}", noopHandler, "GET"); err == nil {
		t.Error("placeholders not separated by '/' should fail")
	}

	if err := rt.addSpecialEndpoint("/screen/{screen_number}", noopHandler, "GET"); err != nil {
		t.Fatalf("valid special route rejected: %v", err)
	}
	if err := rt.addSpecialEndpoint("/screen/{other}", noopHandler, "GET"); err == nil {
		t.Error("a duplicate special prefix should fail")
	}
}

func TestResolveSpecialInjectsPlaceholders(t *testing.T) {
	rt := newRouter()
	if err := rt.addSpecialEndpoint("/screen/{screen_number}", noopHandler, "GET"); err != nil {
		t.Fatalf("addSpecialEndpoint: %v", err)
	}

	for _, target := range []string{"/screen/42", "/screen/42/"} {
		_, values, ok := rt.resolveSpecial(target)
		if !ok {
			t.Errorf("%q should match the special route", target)
			continue
		}
		if values["screen_number"] != "42" {
			t.Errorf("%q decoded screen_number = %q, want \"42\"", target, values["screen_number"])
		}
	}
}

func TestResolveSpecialRejectsWrongShape(t *testing.T) {
	rt := newRouter()
	if err := rt.addSpecialEndpoint("/screen/{screen_number}", noopHandler, "GET"); err != nil {
		t.Fatalf("addSpecialEndpoint: %v", err)
	}

	if _, _, ok := rt.resolveSpecial("/screen"); ok {
		t.Error("/screen must not match the special route")
	}
	if _, _, ok := rt.resolveSpecial("/screen/1/2"); ok {
		t.Error("/screen/1/2 has too many tokens for one placeholder")
	}
	if _, _, ok := rt.resolveSpecial("/other/42"); ok {
		t.Error("an unrelated prefix must not match")
	}
}

func TestResolveSpecialWithSuffix(t *testing.T) {
	rt := newRouter()
	if err := rt.addSpecialEndpoint("/card/{id}/mode", noopHandler, "GET"); err != nil {
		t.Fatalf("addSpecialEndpoint: %v", err)
	}

	_, values, ok := rt.resolveSpecial("/card/7/mode")
	if !ok {
		t.Fatal("/card/7/mode should match")
	}
	if values["id"] != "7" {
		t.Errorf("id = %q, want \"7\"", values["id"])
	}
	if _, _, ok := rt.resolveSpecial("/card/7"); ok {
		t.Error("/card/7 lacks the suffix and must not match")
	}
}
