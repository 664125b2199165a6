package scenario

import "netplay-engine/internal/netplay"

// BuiltIn returns the scenarios shipped with the binary, keyed by name.
// Scenarios that join a room use room; host-and-play shares it.
func BuiltIn(room string) map[string]Scenario {
	return map[string]Scenario{
		"solo": {
			Name:        "solo",
			Description: "Plays locally, moving the paddle up and down.",
			Phases: []Phase{
				{Name: "up", Buttons: []string{"up"}, Triggers: []Trigger{{Event: "frames", Value: 90, Next: "down"}}},
				{Name: "down", Buttons: []string{"down"}, Triggers: []Trigger{{Event: "frames", Value: 90, Next: "up"}}},
			},
		},
		"host-and-play": {
			Name:        "host-and-play",
			Description: "Hosts a room, then holds up for as long as the session runs.",
			Phases: []Phase{
				{
					Name:     "host",
					Command:  &netplay.Command{Kind: netplay.CmdHost, Room: room},
					Triggers: []Trigger{{Event: "state", State: "connected", Next: "play"}},
				},
				{Name: "play", Buttons: []string{"up"}},
			},
		},
		"join-and-play": {
			Name:        "join-and-play",
			Description: "Joins a room, then holds down for as long as the session runs.",
			Phases: []Phase{
				{
					Name:     "join",
					Command:  &netplay.Command{Kind: netplay.CmdJoin, Room: room},
					Triggers: []Trigger{{Event: "state", State: "connected", Next: "play"}},
				},
				{Name: "play", Buttons: []string{"down"}},
			},
		},
		"drop-and-resume": {
			Name:        "drop-and-resume",
			Description: "Joins a room, plays ten seconds, then forces a resume.",
			Phases: []Phase{
				{
					Name:     "join",
					Command:  &netplay.Command{Kind: netplay.CmdJoin, Room: room},
					Triggers: []Trigger{{Event: "state", State: "connected", Next: "play"}},
				},
				{Name: "play", Buttons: []string{"up"}, Triggers: []Trigger{{Event: "frames", Value: 600, Next: "drop"}}},
				{
					Name:     "drop",
					Buttons:  []string{"up"},
					Command:  &netplay.Command{Kind: netplay.CmdResume},
					Triggers: []Trigger{{Event: "state", State: "connected", Next: "resumed"}},
				},
				{Name: "resumed", Buttons: []string{"down"}},
			},
		},
	}
}
