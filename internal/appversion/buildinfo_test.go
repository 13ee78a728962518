package appversion_test

import (
	"strings"
	"testing"

	"argent/internal/appversion"
)

func TestVersionIsSet(t *testing.T) {
	t.Parallel()

	v := appversion.String()
	if v == "" {
		t.Fatal("appversion.String() must not be empty")
	}
	if !strings.HasPrefix(v, "dev") {
		t.Errorf("String() = %q, want dev prefix in test builds", v)
	}
}
