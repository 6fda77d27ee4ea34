package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/plane"
	"solemnsky/server/internal/protocol"
	"solemnsky/server/internal/scoreboard"
	"solemnsky/server/internal/telegraph"
)

// Listener is a game mode: an arena subsystem that also sees every packet a
// joined player sends, after the executor has handled it.
type Listener interface {
	arena.Listener
	OnPacket(peer telegraph.Peer, player *arena.Player, packet protocol.ClientPacket)
}

const (
	// DefaultScoringPeriod is how long the scores stay up before the lobby.
	DefaultScoringPeriod = 10 * time.Second
	// DefaultRespawnDelay separates a death from the next allowed spawn.
	DefaultRespawnDelay = 2 * time.Second
)

// VanillaOptions configures the stock game mode.
type VanillaOptions struct {
	Logger *logging.Logger
	// RConPassword grants admin rights through "login". Empty disables rcon
	// logins.
	RConPassword string
	// ScoreLimit ends the game once a team has that many kills. Zero never
	// ends it.
	ScoreLimit    int
	ScoringPeriod time.Duration
	RespawnDelay  time.Duration
	Tuning        plane.Tuning
}

// Vanilla is team deathmatch with an rcon console.
type Vanilla struct {
	arena.Subsystem[time.Duration]
	arena.BaseListener

	shared *Shared
	log    *logging.Logger
	opts   VanillaOptions

	tuning  plane.Tuning
	scoring arena.Cooldown
	spawns  int
}

// NewVanilla attaches the stock game mode to shared and listens for the
// plane deaths of its sky.
func NewVanilla(shared *Shared, opts VanillaOptions) *Vanilla {
	if opts.Logger == nil {
		opts.Logger = logging.L()
	}
	if opts.ScoringPeriod <= 0 {
		opts.ScoringPeriod = DefaultScoringPeriod
	}
	if opts.RespawnDelay <= 0 {
		opts.RespawnDelay = DefaultRespawnDelay
	}
	v := &Vanilla{
		shared:  shared,
		log:     opts.Logger.Named(logging.OriginServer, "vanilla"),
		opts:    opts,
		tuning:  opts.Tuning,
		scoring: arena.NewCooldown(opts.ScoringPeriod),
	}
	v.Attach(shared.Arena, v)
	shared.SetDeathListener(v)
	return v
}

// Tuning returns the tuning future spawns use.
func (v *Vanilla) Tuning() plane.Tuning { return v.tuning }

// RegisterPlayer records no death, so a fresh player may spawn at once.
func (v *Vanilla) RegisterPlayer(p *arena.Player) {
	var never time.Duration = -1
	v.SetPlayerData(p, &never)
}

func (v *Vanilla) UnregisterPlayer(p *arena.Player) {
	v.ClearPlayerData(p)
}

// OnStartGame zeroes the scores of the new round.
func (v *Vanilla) OnStartGame() {
	v.spawns = 0
	v.Arena().ForPlayers(func(p *arena.Player) {
		if record := v.shared.Scoreboard.Record(p); record != nil {
			for i := range record.Values() {
				record.SetValue(i, 0)
			}
		}
		if died := v.PlayerData(p); died != nil {
			*died = -1
		}
	})
}

// OnTick moves from Scoring back to the lobby once the period ends.
func (v *Vanilla) OnTick(delta time.Duration) {
	if v.Arena().Mode() != arena.ModeScoring {
		return
	}
	if v.scoring.Tick(delta) {
		v.shared.RegisterGameEnd()
		v.shared.RegisterArenaDelta(arena.ModeDelta(arena.ModeLobby))
	}
}

// OnPlaneDeath scores a kill for killer unless it was a teammate or the
// victim itself. Deaths are counted by the scoreboard.
func (v *Vanilla) OnPlaneDeath(victim, killer *arena.Player) {
	if died := v.PlayerData(victim); died != nil {
		*died = v.Arena().Uptime()
	}
	if killer == nil || killer == victim {
		return
	}
	if v.Arena().TeamCount() > 1 && killer.Team() == victim.Team() {
		return
	}
	v.shared.Scoreboard.Add(killer, scoreboard.FieldKills, 1)
	v.checkScoreLimit()
}

// TeamKills sums the kills of every player on team.
func (v *Vanilla) TeamKills(team arena.Team) int {
	idx := v.shared.Scoreboard.FieldIndex(scoreboard.FieldKills)
	total := 0
	v.Arena().ForPlayers(func(p *arena.Player) {
		if p.Team() != team {
			return
		}
		if record := v.shared.Scoreboard.Record(p); record != nil {
			total += record.Value(idx)
		}
	})
	return total
}

func (v *Vanilla) checkScoreLimit() {
	if v.opts.ScoreLimit <= 0 || v.Arena().Mode() != arena.ModeGame {
		return
	}
	for _, team := range []arena.Team{arena.TeamRed, arena.TeamBlue} {
		if v.TeamKills(team) < v.opts.ScoreLimit {
			continue
		}
		v.scoring.Reset()
		v.shared.RegisterArenaDelta(arena.ModeDelta(arena.ModeScoring))
		v.shared.SendToClients(protocol.Broadcast(team.String() + " team wins"))
		v.log.Info("score limit reached", logging.String("team", team.String()),
			logging.Int("limit", v.opts.ScoreLimit))
		return
	}
}

func (v *Vanilla) OnPacket(peer telegraph.Peer, player *arena.Player, packet protocol.ClientPacket) {
	switch packet.Kind {
	case protocol.ClientReqSpawn:
		v.spawn(player)
	case protocol.ClientRCon:
		v.rcon(peer, player, *packet.Text)
	}
}

func (v *Vanilla) spawn(p *arena.Player) {
	if v.Arena().Mode() != arena.ModeGame || p.Team() == arena.TeamSpectator || p.LoadingEnv() {
		return
	}
	s := v.shared.SkyHandle.Sky()
	if s == nil {
		return
	}
	part := s.GetParticipation(p)
	if part == nil || part.IsSpawned() {
		return
	}
	if died := v.PlayerData(p); died != nil && *died >= 0 && v.Arena().Uptime()-*died < v.opts.RespawnDelay {
		return
	}
	pos, rot := s.SpawnPoint(p.Team(), v.spawns)
	v.spawns++
	v.Arena().DoSpawn(p, v.tuning, pos, rot)
}

const rconHelp = "commands: login <password>, start, stop, motd <text>, map <name>, " +
	"teams <n>, tune <param> <value>, kick <pid>, help"

func (v *Vanilla) rcon(peer telegraph.Peer, p *arena.Player, command string) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return
	}
	name, args := args[0], args[1:]

	switch name {
	case "help":
		v.shared.RConResponse(peer, rconHelp)
		return
	case "login":
		v.login(peer, p, args)
		return
	}
	if !p.Admin() {
		v.shared.RConResponse(peer, "you are not logged in")
		return
	}

	switch name {
	case "start":
		if v.Arena().Mode() != arena.ModeLobby {
			v.shared.RConResponse(peer, "a game is already running")
			return
		}
		if err := v.shared.RegisterGameStart(); err != nil {
			v.shared.RConResponse(peer, "could not start: "+err.Error())
			return
		}
		v.shared.RegisterArenaDelta(arena.ModeDelta(arena.ModeGame))
		v.shared.RConResponse(peer, "started game on "+v.shared.SkyHandle.MapName())
	case "stop":
		if v.Arena().Mode() == arena.ModeLobby {
			v.shared.RConResponse(peer, "no game is running")
			return
		}
		v.shared.RegisterGameEnd()
		v.shared.RegisterArenaDelta(arena.ModeDelta(arena.ModeLobby))
		v.shared.RConResponse(peer, "stopped game")
	case "motd":
		motd := strings.Join(args, " ")
		v.shared.RegisterArenaDelta(arena.MotdDelta(motd))
		v.shared.RConResponse(peer, "motd set")
	case "map":
		if len(args) != 1 {
			v.shared.RConResponse(peer, "usage: map <name>")
			return
		}
		v.shared.RegisterArenaDelta(arena.EnvChangeDelta(args[0]))
		v.shared.RConResponse(peer, "next map is "+args[0])
	case "teams":
		n, err := strconv.Atoi(firstArg(args))
		if err != nil || n < 0 || n > arena.MaxTeamCount {
			v.shared.RConResponse(peer, fmt.Sprintf("usage: teams <0-%d>", arena.MaxTeamCount))
			return
		}
		v.shared.RegisterArenaDelta(arena.TeamCountDelta(uint8(n)))
		v.shared.RConResponse(peer, fmt.Sprintf("team count is %d", n))
	case "tune":
		v.tune(peer, args)
	case "kick":
		v.kick(peer, args)
	default:
		v.shared.RConResponse(peer, "unknown command "+strconv.Quote(name))
	}
}

func (v *Vanilla) login(peer telegraph.Peer, p *arena.Player, args []string) {
	if v.opts.RConPassword == "" {
		v.shared.RConResponse(peer, "rcon logins are disabled")
		return
	}
	if len(args) != 1 || args[0] != v.opts.RConPassword {
		v.log.Warn("rejected rcon login", logging.String("player", p.Nickname()))
		v.shared.RConResponse(peer, "wrong password")
		return
	}
	if !p.Admin() {
		delta := p.ZeroDelta()
		delta.Admin = true
		v.shared.RegisterArenaDelta(arena.PlayerDeltaFor(p.PID(), delta))
	}
	v.shared.RConResponse(peer, "logged in")
}

func (v *Vanilla) tune(peer telegraph.Peer, args []string) {
	if len(args) != 2 {
		v.shared.RConResponse(peer, "usage: tune <param> <value>")
		return
	}
	param := v.tuning.Param(args[0])
	if param == nil {
		v.shared.RConResponse(peer, "unknown parameter "+strconv.Quote(args[0]))
		return
	}
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		v.shared.RConResponse(peer, "invalid value "+strconv.Quote(args[1]))
		return
	}
	*param = value
	v.shared.RConResponse(peer, fmt.Sprintf("%s = %g from the next spawn", args[0], value))
}

func (v *Vanilla) kick(peer telegraph.Peer, args []string) {
	n, err := strconv.ParseUint(firstArg(args), 10, 32)
	if err != nil {
		v.shared.RConResponse(peer, "usage: kick <pid>")
		return
	}
	pid := networked.PID(n)
	target := v.shared.PeerFromPlayer(pid)
	if target == nil {
		v.shared.RConResponse(peer, fmt.Sprintf("no player %d", pid))
		return
	}
	name := v.Arena().GetPlayer(pid).Nickname()
	target.Close("kicked")
	v.shared.RConResponse(peer, "kicked "+name)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
