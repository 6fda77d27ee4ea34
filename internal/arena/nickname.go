package arena

import (
	"strconv"
	"strings"
	"unicode"

	"solemnsky/server/internal/networked"
)

// AllocNickname picks a nickname for a player asking for requested.
// Trailing whitespace is dropped. When the name is taken, the smallest free
// "name(N)" variant is returned. The player with PID ignore, if any, does not
// count as a holder, which lets a player re-request their own name.
func (a *Arena) AllocNickname(requested string, ignore *networked.PID) string {
	name := strings.TrimRightFunc(requested, unicode.IsSpace)

	//1.- Collect the numbers in use: 0 for the bare name, N for "name(N)".
	used := make(map[int]struct{})
	for pid, p := range a.players {
		if ignore != nil && pid == *ignore {
			continue
		}
		if n, ok := nicknameNumber(name, p.nickname); ok {
			used[n] = struct{}{}
		}
	}

	//2.- The smallest free number wins; 0 is the bare name.
	n := 0
	for {
		if _, taken := used[n]; !taken {
			break
		}
		n++
	}
	if n == 0 {
		return name
	}
	return name + "(" + strconv.Itoa(n) + ")"
}

// nicknameNumber reports which number nick occupies for base.
func nicknameNumber(base, nick string) (int, bool) {
	if nick == base {
		return 0, true
	}
	rest, ok := strings.CutPrefix(nick, base+"(")
	if !ok {
		return 0, false
	}
	digits, ok := strings.CutSuffix(rest, ")")
	if !ok || digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
