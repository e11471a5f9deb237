package fault

import (
	"testing"
)

func TestIsNameValidEmpty(t *testing.T) {
	if isNameValid("") {
		t.Fatal("expected false")
	}
}

func TestIsNameValidBadChars(t *testing.T) {
	for _, c := range []string{"(", ")", "`", "~", "!", "@", "#", "$", "%", "^", "&", "*", "+", "=", "|", "\\", "{", "}", "[", "]", ":", ";", "'", "<", ">", ",", ".", "?", "/", " "} {
		name := "some-name-" + c + "-that-is-bad"
		if isNameValid(name) {
			t.Fatalf("expected false with name containing: %s", c)
		}
	}
}

func TestIsNameValid(t *testing.T) {
	for _, name := range []string{"checkpoint_start", "fts-probe", "A1"} {
		if !isNameValid(name) {
			t.Fatalf("expected true for name: %s", name)
		}
	}
}

func TestStripNamespaceWithInvalidName(t *testing.T) {
	_, err := stripNamespace("ns", "hello")
	if err != ErrInvalidName {
		t.Fatal("expected invalid name error")
	}
}

func TestStripNamespace(t *testing.T) {
	res, err := stripNamespace("ns", "ns.injector.hello")
	if err != nil {
		t.Fatal(err)
	}
	if res != "hello" {
		t.Fatal("expected name without namespace")
	}
}

func TestNamespaceName(t *testing.T) {
	res, err := namespaceName("ns", "segment-0")
	if err != nil {
		t.Fatal(err)
	}
	if res != "ns.injector.segment-0" {
		t.Fatalf("unexpected namespaced name: %v", res)
	}
}

func TestNamespaceNameInvalidName(t *testing.T) {
	_, err := namespaceName("valid", "invalid-!")
	if err != ErrInvalidName {
		t.Fatal("expected invalid name error")
	}
}

func TestNamespaceNameInvalidNamespace(t *testing.T) {
	_, err := namespaceName("invalid-!", "valid")
	if err != ErrInvalidNamespace {
		t.Fatal("expected invalid namespace error")
	}
}

func TestNamespacePrefixInvalidNamespace(t *testing.T) {
	_, err := namespacePrefix("invalid-!")
	if err != ErrInvalidNamespace {
		t.Fatal("expected invalid namespace error")
	}
}

func TestFormatName(t *testing.T) {
	name := formatName("127.0.0.1:7000")
	if name != "127-0-0-1-7000" {
		t.Fatalf("unexpected name: %v", name)
	}
	if !isNameValid(formatName("[::1]:7000")) {
		t.Fatal("expected formatted ipv6 address to be a valid name")
	}
}
