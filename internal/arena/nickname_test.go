package arena

import (
	"testing"

	"solemnsky/server/internal/networked"
)

func TestAllocNicknameDeduplicates(t *testing.T) {
	a := newTestArena(2)
	got := []string{
		a.ConnectPlayer("Alice").Join.Nickname,
		a.ConnectPlayer("Alice").Join.Nickname,
		a.ConnectPlayer("Alice  ").Join.Nickname,
	}
	want := []string{"Alice", "Alice(1)", "Alice(2)"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestAllocNicknameReusesFreedNumber(t *testing.T) {
	a := newTestArena(2)
	a.ConnectPlayer("Alice")
	a.ConnectPlayer("Alice")
	a.ConnectPlayer("Alice")

	a.ApplyDelta(QuitDelta(1))
	if nick := a.AllocNickname("Alice", nil); nick != "Alice(1)" {
		t.Fatalf("expected freed Alice(1), got %q", nick)
	}
	a.ApplyDelta(QuitDelta(0))
	if nick := a.AllocNickname("Alice", nil); nick != "Alice" {
		t.Fatalf("expected bare name once free, got %q", nick)
	}
}

func TestAllocNicknameIgnoresSelf(t *testing.T) {
	a := newTestArena(2)
	a.ConnectPlayer("Alice")
	self := networked.PID(0)
	if nick := a.AllocNickname("Alice", &self); nick != "Alice" {
		t.Fatalf("player should keep their own name, got %q", nick)
	}
}

func TestAllocNicknameIgnoresLookalikes(t *testing.T) {
	a := newTestArena(2)
	a.ConnectPlayer("Alice(x)")
	a.ConnectPlayer("Alice(-1)")
	a.ConnectPlayer("Alice(3")
	if nick := a.AllocNickname("Alice", nil); nick != "Alice" {
		t.Fatalf("lookalikes must not occupy numbers, got %q", nick)
	}
}
