package portal

import (
	"errors"
	"testing"

	"github.com/1broseidon/deskportal/internal/platform"
	"github.com/google/go-cmp/cmp"
)

func TestRegistryAddLookupRemove(t *testing.T) {
	reg := NewRegistry()
	a := NewFolder(Header{ID: "a1", Title: "One"}, Folder{Path: "/one"})
	b := NewURL(Header{Title: "Two"}, URL{})

	if _, err := reg.Add(a); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	idB, err := reg.Add(b)
	if err != nil {
		t.Fatalf("Add b: %v", err)
	}
	if idB == "" || idB == "a1" {
		t.Fatalf("minted id = %q", idB)
	}
	if again, _ := reg.Add(a); again != "a1" {
		t.Fatalf("re-adding must return the existing id, got %q", again)
	}

	got, err := reg.Lookup("a1")
	if err != nil || got != a {
		t.Fatalf("Lookup(a1) = %v, %v", got, err)
	}
	if id, ok := reg.IDOf(b); !ok || id != idB {
		t.Fatalf("IDOf(b) = %q, %v", id, ok)
	}

	want := []Info{{ID: "a1", Title: "One", Kind: KindFolder}, {ID: idB, Title: "Two", Kind: KindURL}}
	if diff := cmp.Diff(want, reg.Infos()); diff != "" {
		t.Fatalf("Infos mismatch (-want +got):\n%s", diff)
	}

	if _, err := reg.Remove("a1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := reg.Lookup("a1"); !errors.Is(err, ErrUnknownPortal) {
		t.Fatalf("Lookup after remove = %v", err)
	}
	if reg.Count() != 1 {
		t.Fatalf("count = %d", reg.Count())
	}
}

func TestRegistryRejectsDuplicateIDs(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Add(NewFolder(Header{ID: "dup", Title: "x"}, Folder{})); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := reg.Add(NewFolder(Header{ID: "dup", Title: "y"}, Folder{})); err == nil {
		t.Fatalf("expected duplicate id to be rejected")
	}
	p := NewFolder(Header{Title: "z"}, Folder{})
	if err := reg.AssignID(p, "dup"); err == nil {
		t.Fatalf("expected AssignID of a taken id to fail")
	}
}

func TestPortalValidateAndDrop(t *testing.T) {
	tests := []struct {
		name    string
		portal  *Portal
		wantErr bool
	}{
		{"folder", NewFolder(Header{Bounds: rect(100, 100)}, Folder{Path: "/x"}), false},
		{"app without executable", NewApp(Header{Bounds: rect(100, 100)}, App{}), true},
		{"url", NewURL(Header{Bounds: rect(100, 100)}, URL{}), false},
		{"empty bounds", NewURL(Header{}, URL{}), true},
		{"mismatched payload", &Portal{Kind: KindFolder, Header: Header{Bounds: rect(1, 1)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.portal.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	p := NewFolder(Header{}, Folder{})
	if p.Drop([]string{"/a"}) {
		t.Fatalf("drop without handler must not be handled")
	}
	var got []string
	p.SetDropHandler(func(paths []string) bool { got = paths; return true })
	if !p.Drop([]string{"/a", "/b"}) || len(got) != 2 {
		t.Fatalf("drop handler not invoked: %v", got)
	}
}

func TestParseHelpers(t *testing.T) {
	if k, err := ParseKind(" App "); err != nil || k != KindApp {
		t.Fatalf("ParseKind = %q, %v", k, err)
	}
	if _, err := ParseKind("widget"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if c, ok := ParseColor("#1e90ff"); !ok || c != 0x1e90ff {
		t.Fatalf("ParseColor = %#x, %v", c, ok)
	}
	if _, ok := ParseColor("blue"); ok {
		t.Fatalf("expected invalid color")
	}
	if TitleAlign("").Normalize() != AlignLeft || AlignRight.Normalize() != AlignRight {
		t.Fatalf("Normalize mismatch")
	}
}

func rect(w, h int) platform.Rect { return platform.Rect{Width: w, Height: h} }
