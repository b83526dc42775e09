package subagent

// Profile describes one sub-agent type: a default model hint and the
// directive text appended to the parent's system prompt for that type.
type Profile struct {
	DefaultModel string
	Directive    string
}

// Profiles is the built-in sub-agent catalog, per spec §4.8.
var Profiles = map[string]Profile{
	"general-purpose": {
		Directive: "You are a general-purpose sub-agent. Complete the assigned task " +
			"independently and report back a concise result; you have no visibility " +
			"into the parent conversation beyond the task description below.",
	},
	"explore": {
		Directive: "You are an exploration sub-agent. Investigate the codebase or " +
			"data the task describes and report findings; prefer read-only tools " +
			"and avoid making changes unless the task explicitly asks for them.",
	},
	"plan": {
		Directive: "You are a planning sub-agent. Produce a concrete, ordered plan " +
			"for the task described below; do not execute the plan yourself unless " +
			"the task explicitly asks you to.",
	},
}

// ResolveProfile looks up a sub-agent type, defaulting to general-purpose
// for an empty or unrecognized type.
func ResolveProfile(subagentType string) (string, Profile) {
	if profile, ok := Profiles[subagentType]; ok {
		return subagentType, profile
	}
	return "general-purpose", Profiles["general-purpose"]
}
