package telegraph

import "testing"

func TestMergeForwardsEveryHost(t *testing.T) {
	first, second := NewPipeHost(), NewPipeHost()
	merged := Merge(first, second, nil)
	t.Cleanup(func() { merged.Close() })

	//1.- Connections on either host reach the merged queue.
	a := first.Dial()
	b := second.Dial()
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := next(t, merged)
		if ev.Kind != EventConnect {
			t.Fatalf("expected connect, got %s", ev.Kind)
		}
		seen[ev.Peer.RemoteAddr()] = true
	}
	if len(seen) != 2 || len(merged.Peers()) != 2 {
		t.Fatalf("expected two distinct peers, got %v", seen)
	}

	//2.- Payloads keep their per-host order.
	peer := next(t, a).Peer
	for _, payload := range []string{"one", "two", "three"} {
		if err := peer.Send([]byte(payload), true); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		if ev := next(t, merged); string(ev.Payload) != want {
			t.Fatalf("expected %q, got %q", want, ev.Payload)
		}
	}
	next(t, b)

	//3.- Closing the merge closes the hosts behind it.
	if err := merged.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(first.Peers()) != 0 || len(second.Peers()) != 0 {
		t.Fatalf("expected every host to drop its peers")
	}
}
