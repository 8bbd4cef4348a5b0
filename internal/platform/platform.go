package platform

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Descriptor identifies one backend platform. PrefixCode is the
// two-character hex code embedded in session UUIDs generated by the
// launcher; codes are assigned once and never reassigned.
type Descriptor struct {
	ID          string
	Name        string
	PrefixCode  string
	TokenPrefix string // heuristic token shape, empty = never matched
}

// The deployed registry. Order matters for the token-shape heuristic.
// deepseek's sk- prefix is shared by too many vendors to be a signal,
// so it carries no TokenPrefix.
var registry = []Descriptor{
	{ID: "gaccode", Name: "GAC Code", PrefixCode: "01", TokenPrefix: "sk-ant-"},
	{ID: "deepseek", Name: "DeepSeek", PrefixCode: "02"},
	{ID: "kimi", Name: "Kimi", PrefixCode: "03", TokenPrefix: "sk-"},
	{ID: "siliconflow", Name: "SiliconFlow", PrefixCode: "04", TokenPrefix: "sk-"},
	{ID: "local_proxy", Name: "Local Proxy", PrefixCode: "05"},
}

var byID = func() map[string]Descriptor {
	m := make(map[string]Descriptor, len(registry))
	for _, d := range registry {
		m[d.ID] = d
	}
	return m
}()

var byPrefix = func() map[string]Descriptor {
	m := make(map[string]Descriptor, len(registry))
	for _, d := range registry {
		m[d.PrefixCode] = d
	}
	return m
}()

// All returns the registered descriptors in heuristic order.
func All() []Descriptor {
	out := make([]Descriptor, len(registry))
	copy(out, registry)
	return out
}

// ByID looks up a descriptor by platform id.
func ByID(id string) (Descriptor, bool) {
	d, ok := byID[id]
	return d, ok
}

// ByPrefix looks up a descriptor by its two-character prefix code.
func ByPrefix(code string) (Descriptor, bool) {
	d, ok := byPrefix[strings.ToLower(code)]
	return d, ok
}

// MatchToken returns the first platform whose token shape matches.
// This is the least reliable detection signal and only runs after the
// mapping store, the UUID prefix and the explicit config all missed.
func MatchToken(token string) (Descriptor, bool) {
	if token == "" {
		return Descriptor{}, false
	}
	for _, d := range registry {
		if d.TokenPrefix != "" && strings.HasPrefix(token, d.TokenPrefix) {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Provider is one backend's balance/subscription surface. Fetch methods
// perform the network call; Format methods turn a previously fetched
// (possibly stale, possibly nil) payload into a display segment.
type Provider interface {
	Descriptor() Descriptor
	FetchBalance(ctx context.Context) (json.RawMessage, error)
	// FetchSubscription returns (nil, nil) for platforms without a
	// subscription endpoint.
	FetchSubscription(ctx context.Context) (json.RawMessage, error)
	FormatBalance(payload json.RawMessage) string
	FormatSubscription(payload json.RawMessage) string
}

type providerCtor func(baseURL, token string, timeout time.Duration) Provider

// Static constructor table; no reflection-based lookup.
var providers = map[string]providerCtor{
	"gaccode":     newGACCode,
	"deepseek":    newDeepSeek,
	"kimi":        newKimi,
	"siliconflow": newSiliconFlow,
	"local_proxy": newLocalProxy,
}

// New builds the Provider for a platform id. baseURL and token come from
// the configuration's launch snapshot or registry.
func New(id, baseURL, token string, timeout time.Duration) (Provider, bool) {
	ctor, ok := providers[id]
	if !ok {
		return nil, false
	}
	return ctor(baseURL, token, timeout), true
}
