package main

import (
	"encoding/json"
	"net/http"

	"solemnsky/server/internal/plane"
)

// ControlDoc describes one plane control and its default binding, so clients
// and tooling can render help without hard-coding the action list.
type ControlDoc struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Shortcut    string `json:"shortcut,omitempty"`
}

type controlText struct {
	label, description, shortcut string
}

var controlTexts = map[plane.Action]controlText{
	plane.ActionThrust:    {"Thrust", "Accelerate along the nose; hold to climb out of a stall.", "Arrow Up"},
	plane.ActionReverse:   {"Reverse", "Brake and slide backwards.", "Arrow Down"},
	plane.ActionLeft:      {"Rotate Left", "Turn counter-clockwise.", "Arrow Left"},
	plane.ActionRight:     {"Rotate Right", "Turn clockwise.", "Arrow Right"},
	plane.ActionPrimary:   {"Primary", "Fire the primary weapon.", "F"},
	plane.ActionSecondary: {"Secondary", "Use the secondary ability.", "D"},
	plane.ActionSpecial:   {"Special", "Use the special ability.", "S"},
	plane.ActionSuicide:   {"Self Destruct", "Blow up the plane.", "Delete"},
}

// controlDocs lists every action in declaration order.
func controlDocs() []ControlDoc {
	actions := plane.Actions()
	docs := make([]ControlDoc, 0, len(actions))
	for _, action := range actions {
		text := controlTexts[action]
		if text.label == "" {
			text.label = action.String()
		}
		docs = append(docs, ControlDoc{
			ID:          action.String(),
			Label:       text.label,
			Description: text.description,
			Shortcut:    text.shortcut,
		})
	}
	return docs
}

// registerControlDocEndpoints serves the control documentation as JSON.
func registerControlDocEndpoints(mux *http.ServeMux) {
	mux.HandleFunc("/api/controls", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(controlDocs()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
