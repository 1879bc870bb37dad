package domain

import "time"

// Game servers report one byte per player slot; anything above the engine
// cap plus spectator slots indicates a corrupt or spoofed reply.
const maxPlausiblePlayerSlots = 67

// ServerObservation is one live server snapshot produced per cycle.
// Params: query-time server identity, map, and player counts.
// Returns: ephemeral observation, never cached across cycles.
type ServerObservation struct {
	Address     string `json:"address"`
	Online      bool   `json:"online"`
	Name        string `json:"name"`
	Map         string `json:"map"`
	Game        string `json:"game"`
	Players     int    `json:"players"`
	MaxPlayers  int    `json:"max_players"`
	Bots        int    `json:"bots"`
	RealPlayers int    `json:"real_players"`
}

// OfflineObservation builds the placeholder observation for a failed query.
// Params: queried server address.
// Returns: offline observation that never satisfies rule gates.
func OfflineObservation(address string) ServerObservation {
	return ServerObservation{Address: address}
}

// Sanitize discards implausible player counts and derives real players.
// Params: observation parsed from a raw query reply.
// Returns: observation with bot-free player count and capped slots.
func (o ServerObservation) Sanitize() ServerObservation {
	if o.MaxPlayers > maxPlausiblePlayerSlots {
		o.Players = 0
		o.MaxPlayers = 0
		o.Bots = 0
	}
	o.RealPlayers = o.Players - o.Bots
	if o.RealPlayers < 0 {
		o.RealPlayers = 0
	}
	return o
}

// MatchedServer is one rule/server match emitted by a cycle.
// Params: matched server snapshot plus the rule and pattern that won.
// Returns: immutable value consumed by dispatcher and match history.
type MatchedServer struct {
	Address    string    `json:"address"`
	ServerName string    `json:"server_name"`
	Map        string    `json:"map"`
	Players    int       `json:"players"`
	MaxPlayers int       `json:"max_players"`
	RuleID     string    `json:"rule_id"`
	RuleName   string    `json:"rule_name"`
	Pattern    string    `json:"pattern"`
	MatchedAt  time.Time `json:"matched_at"`
	AutoJoin   bool      `json:"auto_join"`
}

// CycleResult is the outcome of one full rule-evaluation pass.
// Params: actionable notifications, live matches, and auto-join marker.
// Returns: accumulated cycle output, possibly partial on cycle error.
type CycleResult struct {
	Matched        []MatchedServer `json:"matched"`
	CurrentMatches []MatchedServer `json:"current_matches"`
	AutoJoined     *MatchedServer  `json:"auto_joined,omitempty"`
}
