// Package permission resolves which tool plugins an agent instance may
// load, given the user's persisted tool settings and the authoritative
// tool manifest.
package permission

// ToggleManifestEntry describes one toggle id's effect: which plugin ids
// it enables, whether it requires a secret to be present, and whether it
// is enabled by default when no settings have been saved yet.
type ToggleManifestEntry struct {
	PluginIDs      []string `yaml:"plugin_ids"`
	RequiresSecret bool     `yaml:"requires_secret"`
	SecretID       string   `yaml:"secret_id"`
	DefaultEnabled bool     `yaml:"default_enabled"`
}

// Manifest maps toggle id to its manifest entry.
type Manifest map[string]ToggleManifestEntry

// ToolSettings is the persisted user preference: which toggle ids are
// enabled. A nil or empty EnabledTools means "no settings saved".
type ToolSettings struct {
	EnabledTools []string
	Saved        bool
}

// WarningReason enumerates why a toggle's plugins were withheld.
type WarningReason string

const MissingSecret WarningReason = "missing-secret"

// Warning surfaces a toggle that could not be honored.
type Warning struct {
	Reason   WarningReason
	ToggleID string
	SecretID string
}

// Resolution is the resolver's output: the set of plugin ids the caller
// may load, and any warnings about toggles that could not be honored.
type Resolution struct {
	AllowedPluginIDs map[string]bool
	Warnings         []Warning
}

// SecretLookup reports whether a named secret is present.
type SecretLookup func(secretID string) bool

// Resolve computes the allowed plugin set for the given settings and
// manifest, per spec §4.5:
//
//   - no settings saved: enable every toggle with DefaultEnabled = true
//   - a selected toggle that requires a secret which is unset: emit a
//     missing-secret warning and omit its plugin ids
//   - unknown toggle ids referenced by settings are silently dropped
//   - a plugin never referenced by any toggle in the manifest is
//     unrestricted (always allowed)
func Resolve(settings ToolSettings, manifest Manifest, hasSecret SecretLookup) Resolution {
	res := Resolution{AllowedPluginIDs: make(map[string]bool)}

	selected := selectedToggles(settings, manifest)

	for _, toggleID := range selected {
		entry, ok := manifest[toggleID]
		if !ok {
			continue // unknown toggle id, silently dropped
		}
		if entry.RequiresSecret && !secretPresent(hasSecret, entry.SecretID) {
			res.Warnings = append(res.Warnings, Warning{
				Reason:   MissingSecret,
				ToggleID: toggleID,
				SecretID: entry.SecretID,
			})
			continue
		}
		for _, pluginID := range entry.PluginIDs {
			res.AllowedPluginIDs[pluginID] = true
		}
	}

	return res
}

func selectedToggles(settings ToolSettings, manifest Manifest) []string {
	if settings.Saved {
		// An explicitly saved empty selection means the user disabled
		// everything; it must not fall back to the default-enabled set.
		return settings.EnabledTools
	}
	var defaults []string
	for id, entry := range manifest {
		if entry.DefaultEnabled {
			defaults = append(defaults, id)
		}
	}
	return defaults
}

func secretPresent(hasSecret SecretLookup, secretID string) bool {
	if hasSecret == nil {
		return false
	}
	return hasSecret(secretID)
}

// IsUnreferenced reports whether a plugin id is claimed by any toggle in
// the manifest. A plugin the manifest never mentions is unrestricted.
func IsUnreferenced(manifest Manifest, pluginID string) bool {
	for _, entry := range manifest {
		for _, id := range entry.PluginIDs {
			if id == pluginID {
				return false
			}
		}
	}
	return true
}

// Allows reports whether pluginID is permitted under res, accounting for
// plugins the manifest never references.
func (res Resolution) Allows(manifest Manifest, pluginID string) bool {
	if res.AllowedPluginIDs[pluginID] {
		return true
	}
	return IsUnreferenced(manifest, pluginID)
}
