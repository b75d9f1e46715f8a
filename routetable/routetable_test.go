package routetable

import (
	"errors"
	"testing"

	"github.com/flowmesh/flowmesh/ferrors"
)

func TestRegisterAndRoute(t *testing.T) {
	rt := New()
	if err := rt.Register("workeradd", func(p map[string]any) (any, error) {
		return p["lhs"].(int) + p["rhs"].(int), nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	h, err := rt.Route("workeradd")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	result, err := h(map[string]any{"lhs": 2, "rhs": 3})
	if err != nil || result != 5 {
		t.Fatalf("unexpected result: %v, err: %v", result, err)
	}
}

func TestRouteUnknownStage(t *testing.T) {
	rt := New()
	_, err := rt.Route("ghost")
	var fe *ferrors.Error
	if !errors.As(err, &fe) || fe.Kind != ferrors.KindUnknownStage {
		t.Fatalf("expected UnknownStage, got %v", err)
	}
}

func TestDuplicateRegisterFails(t *testing.T) {
	rt := New()
	noop := func(map[string]any) (any, error) { return nil, nil }
	if err := rt.Register("a", noop); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := rt.Register("a", noop); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestFreezeBlocksFurtherRegistration(t *testing.T) {
	rt := New()
	rt.Freeze()
	if err := rt.Register("a", func(map[string]any) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected registration after freeze to fail")
	}
}
