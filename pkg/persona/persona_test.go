package persona

import (
	"errors"
	"reflect"
	"testing"

	"argent/pkg/protocol"
)

func TestDefault(t *testing.T) {
	d := Default()
	if got := d.IDs(); !reflect.DeepEqual(got, []string{"ember", "miro"}) {
		t.Fatalf("IDs = %v", got)
	}
	miro, err := d.Get("miro")
	if err != nil {
		t.Fatalf("get miro: %v", err)
	}
	if miro.Channel != protocol.ChannelSMS || miro.DisplayName != "Miro" {
		t.Errorf("unexpected miro: %+v", miro)
	}

	_, err = d.Get("vex")
	var nf *protocol.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "persona" {
		t.Errorf("expected persona NotFoundError, got %v", err)
	}
}

func TestSenderName(t *testing.T) {
	tests := map[string]string{
		"ember":  "Ember",
		"miro":   "Miro",
		"system": "System",
		"":       "Unknown",
		"vEX":    "Vex",
	}
	for in, want := range tests {
		if got := SenderName(in); got != want {
			t.Errorf("SenderName(%q) = %q, want %q", in, got, want)
		}
	}
}
