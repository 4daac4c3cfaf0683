package broadcast

import (
	"context"
	"testing"
)

type recorder struct {
	types []string
}

func (r *recorder) BroadcastEvent(_ context.Context, eventType string, _ any) {
	r.types = append(r.types, eventType)
}

func TestFanoutDeliversToAll(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	f := Fanout{a, nil, b, Nop{}}

	f.BroadcastEvent(context.Background(), "lsp.status", struct{}{})
	f.BroadcastEvent(context.Background(), "lsp.diagnostic", struct{}{})

	for name, r := range map[string]*recorder{"a": a, "b": b} {
		if len(r.types) != 2 || r.types[0] != "lsp.status" || r.types[1] != "lsp.diagnostic" {
			t.Errorf("%s: unexpected events %v", name, r.types)
		}
	}
}
