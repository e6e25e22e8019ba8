// Package catalog is the Version Catalog: the single, immutable source
// of truth for which MCP wire protocol versions the host understands, what
// each permits, and how to translate a message between adjacent versions.
// It follows the shape of gomcp's mcp.VersionDetector (supported-list,
// negotiate, validate) but replaces its ad-hoc placeholder adapter with a
// concrete transformer table and a capability-gated validator, per the
// Version Catalog's enlarged responsibility here.
package catalog

import (
	"fmt"

	"github.com/mcphost/runtime/hosterr"
	"github.com/mcphost/runtime/protocol"
)

// Feature names a capability flag a VersionDescriptor may declare.
type Feature string

const (
	FeatureTools         Feature = "tools"
	FeatureResources     Feature = "resources"
	FeaturePrompts       Feature = "prompts"
	FeatureSampling      Feature = "sampling"
	FeatureRoots         Feature = "roots"
	FeatureNotifications Feature = "notifications"
	FeatureProgress      Feature = "progress"
	FeatureCancellation  Feature = "cancellation"
)

// VersionDescriptor describes one protocol version's identity and the
// features it declares. BackwardCompatible lists older ids this version
// also accepts when negotiating against a peer that only claims one of
// those ids.
type VersionDescriptor struct {
	ID                 string
	Features           map[Feature]bool
	BackwardCompatible []string
}

// HasFeature reports whether the descriptor declares the given feature.
func (d VersionDescriptor) HasFeature(f Feature) bool { return d.Features[f] }

// NegotiationResult is the outcome of a successful negotiate call.
type NegotiationResult struct {
	Version              string
	Capabilities         VersionDescriptor
	IsBackwardCompatible bool
	IsDeprecated         bool
	Details              string
}

// ValidationResult is the outcome of validateMessage.
type ValidationResult struct {
	OK       bool
	Errors   []string
	Warnings []string
}

// transformer adapts a message's params/result shape between two adjacent
// versions. dir is +1 moving to a newer version, -1 moving to an older one.
type transformer func(payload map[string]interface{}, dir int) map[string]interface{}

// Catalog is the immutable, ordered (newest-first) set of known versions.
type Catalog struct {
	versions     []VersionDescriptor
	index        map[string]int
	transformers map[[2]string]transformer
	deprecated   map[string]bool
}

// New builds the Catalog the host ships with. Entries are given newest
// first; this is the order supportedVersions() and negotiate() rely on.
func New() *Catalog {
	versions := []VersionDescriptor{
		{
			ID: "2025-03-26",
			Features: map[Feature]bool{
				FeatureTools: true, FeatureResources: true, FeaturePrompts: true,
				FeatureSampling: true, FeatureRoots: true, FeatureNotifications: true,
				FeatureProgress: true, FeatureCancellation: true,
			},
			BackwardCompatible: []string{"2024-11-05"},
		},
		{
			ID: "2024-11-05",
			Features: map[Feature]bool{
				FeatureTools: true, FeatureResources: true, FeaturePrompts: true,
				FeatureSampling: true, FeatureRoots: true, FeatureNotifications: true,
			},
			BackwardCompatible: []string{"2024-09-24"},
		},
		{
			ID: "2024-09-24",
			Features: map[Feature]bool{
				FeatureTools: true, FeatureResources: true,
			},
			BackwardCompatible: nil,
		},
	}

	c := &Catalog{
		versions:     versions,
		index:        make(map[string]int, len(versions)),
		transformers: make(map[[2]string]transformer),
		deprecated:   map[string]bool{"2024-09-24": true},
	}
	for i, v := range versions {
		c.index[v.ID] = i
	}
	c.registerTransformer("2024-11-05", "2025-03-26", upgrade110525to0326)
	c.registerTransformer("2024-09-24", "2024-11-05", identityTransform)
	return c
}

func (c *Catalog) registerTransformer(older, newer string, t transformer) {
	c.transformers[[2]string{older, newer}] = t
	c.transformers[[2]string{newer, older}] = func(payload map[string]interface{}, dir int) map[string]interface{} {
		return t(payload, -dir)
	}
}

// identityTransform is used between versions whose message shapes did not
// change; it copies the payload unmodified.
func identityTransform(payload map[string]interface{}, _ int) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

// upgrade110525to0326 adds the progress/cancellation capability keys that
// 2025-03-26 introduced when moving a message up from 2024-11-05, and
// strips them when moving back down.
func upgrade110525to0326(payload map[string]interface{}, dir int) map[string]interface{} {
	out := identityTransform(payload, dir)
	caps, ok := out["capabilities"].(map[string]interface{})
	if !ok {
		return out
	}
	caps = identityTransform(caps, dir)
	if dir > 0 {
		if _, ok := caps["progress"]; !ok {
			caps["progress"] = map[string]interface{}{}
		}
		if _, ok := caps["cancellation"]; !ok {
			caps["cancellation"] = map[string]interface{}{}
		}
	} else {
		delete(caps, "progress")
		delete(caps, "cancellation")
	}
	out["capabilities"] = caps
	return out
}

// SupportedVersions returns the ordered list of known version ids, newest
// first.
func (c *Catalog) SupportedVersions() []string {
	ids := make([]string, len(c.versions))
	for i, v := range c.versions {
		ids[i] = v.ID
	}
	return ids
}

// Preferred returns the host's most preferred (newest) version.
func (c *Catalog) Preferred() string {
	return c.versions[0].ID
}

// Negotiate picks the best mutual version given the peer's claimed
// versions, per the preference order: exact match starting from the host's
// newest, then backward-compatible matches in the same order.
func (c *Catalog) Negotiate(peerVersions []string) (NegotiationResult, error) {
	peerSet := make(map[string]bool, len(peerVersions))
	for _, v := range peerVersions {
		peerSet[v] = true
	}

	for _, v := range c.versions {
		if peerSet[v.ID] {
			return NegotiationResult{
				Version:              v.ID,
				Capabilities:         v,
				IsBackwardCompatible: false,
				IsDeprecated:         c.deprecated[v.ID],
				Details:              fmt.Sprintf("exact match on %s", v.ID),
			}, nil
		}
	}

	for _, v := range c.versions {
		for _, older := range v.BackwardCompatible {
			if peerSet[older] {
				return NegotiationResult{
					Version:              v.ID,
					Capabilities:         v,
					IsBackwardCompatible: true,
					IsDeprecated:         c.deprecated[v.ID],
					Details:              fmt.Sprintf("peer claimed %s, accepted as backward-compatible with %s", older, v.ID),
				}, nil
			}
		}
	}

	return NegotiationResult{}, hosterr.ErrNoCompatibleVersion
}

// CapabilitiesOf returns the descriptor for a known version id.
func (c *Catalog) CapabilitiesOf(version string) (VersionDescriptor, error) {
	i, ok := c.index[version]
	if !ok {
		return VersionDescriptor{}, hosterr.ErrUnknownVersion
	}
	return c.versions[i], nil
}

// ValidateMessage enforces JSON-RPC 2.0 shape and that the method's
// capability category is enabled by version. initialize messages warn (not
// fail) when they declare progress/cancellation capabilities the version
// does not support.
func (c *Catalog) ValidateMessage(msg *protocol.Request, version string) ValidationResult {
	result := ValidationResult{OK: true}

	if msg.JSONRPC != "2.0" {
		result.OK = false
		result.Errors = append(result.Errors, fmt.Sprintf("jsonrpc field must be \"2.0\", got %q", msg.JSONRPC))
	}
	if msg.Method == "" {
		result.OK = false
		result.Errors = append(result.Errors, "method must be non-empty")
	}

	desc, err := c.CapabilitiesOf(version)
	if err != nil {
		result.OK = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	category := protocol.MethodCategory(msg.Method)
	if category != "" && !desc.HasFeature(Feature(category)) {
		result.OK = false
		result.Errors = append(result.Errors, fmt.Sprintf("method %q requires capability %q, not enabled by version %s", msg.Method, category, version))
	}

	if msg.Method == protocol.MethodInitialize {
		params, _ := msg.Params.(map[string]interface{})
		if caps, ok := params["capabilities"].(map[string]interface{}); ok {
			if _, declared := caps["progress"]; declared && !desc.HasFeature(FeatureProgress) {
				result.Warnings = append(result.Warnings, fmt.Sprintf("initialize declares progress capability, unsupported by version %s", version))
			}
			if _, declared := caps["cancellation"]; declared && !desc.HasFeature(FeatureCancellation) {
				result.Warnings = append(result.Warnings, fmt.Sprintf("initialize declares cancellation capability, unsupported by version %s", version))
			}
		}
	}

	return result
}

// UpgradeMessage composes adjacent transformers along the path between from
// and to, walking the ordered version list. It fails if no path exists
// (e.g. either id is unknown to the catalog).
func (c *Catalog) UpgradeMessage(payload map[string]interface{}, from, to string) (map[string]interface{}, error) {
	fromIdx, ok := c.index[from]
	if !ok {
		return nil, fmt.Errorf("catalog: unknown source version %q: %w", from, hosterr.ErrUnknownVersion)
	}
	toIdx, ok := c.index[to]
	if !ok {
		return nil, fmt.Errorf("catalog: unknown target version %q: %w", to, hosterr.ErrUnknownVersion)
	}
	if fromIdx == toIdx {
		return identityTransform(payload, 0), nil
	}

	// c.versions is newest-first, so a lower index is a newer version. Moving
	// from an older version (higher index) to a newer one (lower index) is a
	// step of -1 through the slice; the reverse is +1.
	step := -1
	if toIdx > fromIdx {
		step = 1
	}

	cur := payload
	for i := fromIdx; i != toIdx; i += step {
		var key [2]string
		var dir int
		if step < 0 {
			key = [2]string{c.versions[i].ID, c.versions[i+step].ID}
			dir = 1
		} else {
			key = [2]string{c.versions[i+1].ID, c.versions[i].ID}
			dir = -1
		}
		t, ok := c.transformers[key]
		if !ok {
			return nil, fmt.Errorf("catalog: no transformer between %s and %s", key[0], key[1])
		}
		cur = t(cur, dir)
	}
	return cur, nil
}

// BuildInitializeParams builds the capabilities block for the given version
// consistent with what that version declares, plus the supplied clientInfo.
func (c *Catalog) BuildInitializeParams(version string, clientInfo protocol.ClientInfo) (*protocol.InitializeParams, error) {
	desc, err := c.CapabilitiesOf(version)
	if err != nil {
		return nil, err
	}

	caps := protocol.Capabilities{}
	if desc.HasFeature(FeatureTools) {
		caps.Tools = map[string]any{}
	}
	if desc.HasFeature(FeatureResources) {
		caps.Resources = map[string]any{}
	}
	if desc.HasFeature(FeaturePrompts) {
		caps.Prompts = map[string]any{}
	}
	if desc.HasFeature(FeatureSampling) {
		caps.Sampling = map[string]any{}
	}
	if desc.HasFeature(FeatureRoots) {
		caps.Roots = map[string]any{}
	}
	if desc.HasFeature(FeatureNotifications) {
		caps.Notifications = map[string]any{}
	}
	if desc.HasFeature(FeatureProgress) {
		caps.Progress = map[string]any{}
	}
	if desc.HasFeature(FeatureCancellation) {
		caps.Cancellation = map[string]any{}
	}

	return &protocol.InitializeParams{
		ProtocolVersion: version,
		Capabilities:    caps,
		ClientInfo:      clientInfo,
	}, nil
}
