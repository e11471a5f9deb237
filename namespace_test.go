package fault

import (
	"fmt"
	"strings"
	"testing"
)

func newNamespace(t testing.TB) string {
	name := strings.NewReplacer("/", "-", " ", "-").Replace(t.Name())
	return fmt.Sprintf("test-namespace-%v", name)
}
