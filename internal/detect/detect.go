// Package detect resolves which platform a session belongs to by
// walking an ordered chain of signals, strongest first. Detection
// never fails: the chain always terminates in a default.
package detect

import (
	log "github.com/sirupsen/logrus"

	"github.com/DrayChou/gaccode-statusline/internal/config"
	"github.com/DrayChou/gaccode-statusline/internal/platform"
	"github.com/DrayChou/gaccode-statusline/internal/session"
)

// Signal names the detection stage that produced a result, for
// logging and troubleshooting.
type Signal string

const (
	SignalMapping  Signal = "mapping"
	SignalPrefix   Signal = "uuid_prefix"
	SignalConfig   Signal = "config"
	SignalToken    Signal = "token"
	SignalDefault  Signal = "default"
	SignalFallback Signal = "fallback"
)

// Result is a resolved platform plus its provenance. Snapshot carries
// the launch-time connection parameters when the mapping store had
// them; it is the zero value otherwise.
type Result struct {
	PlatformID string
	Signal     Signal
	Snapshot   session.ConfigSnapshot
}

// Input bundles everything the chain inspects.
type Input struct {
	SessionID string
	Token     string // credential visible to the invocation, for the shape heuristic
	Config    *config.Config
	Store     session.Store
}

// signals is the chain in priority order: explicit registration,
// session id prefix, explicit configuration, token shape. Each is a
// pure function over the input; the first hit wins.
var signals = []func(Input) (Result, bool){
	fromMapping,
	fromPrefix,
	fromConfig,
	fromToken,
}

// Resolve walks the signal chain and falls back to the configured
// default (or gaccode) when nothing matches.
func Resolve(in Input) Result {
	for _, signal := range signals {
		if r, ok := signal(in); ok {
			return logged(r)
		}
	}
	return logged(fromDefault(in))
}

func logged(r Result) Result {
	log.WithFields(log.Fields{
		"platform": r.PlatformID,
		"signal":   r.Signal,
	}).Debug("Platform resolved")
	return r
}

// fromMapping consults the launcher's registration table. A hit is
// authoritative even when the session id also carries a decodable
// prefix, since re-registration can move a session between platforms.
func fromMapping(in Input) (Result, bool) {
	if in.Store == nil || in.SessionID == "" {
		return Result{}, false
	}
	m, ok := in.Store.Lookup(in.SessionID)
	if !ok {
		return Result{}, false
	}
	if _, known := platform.ByID(m.Platform); !known {
		log.WithFields(log.Fields{
			"session_id": in.SessionID,
			"platform":   m.Platform,
		}).Warn("Mapping names an unknown platform, ignoring")
		return Result{}, false
	}
	return Result{PlatformID: m.Platform, Signal: SignalMapping, Snapshot: m.LaunchConfig}, true
}

// fromPrefix decodes launcher-generated session ids. Externally
// generated UUIDs whose first two characters happen to be hex digits
// only match when those digits are a registered code.
func fromPrefix(in Input) (Result, bool) {
	id, ok := session.Decode(in.SessionID)
	if !ok {
		return Result{}, false
	}
	return Result{PlatformID: id, Signal: SignalPrefix}, true
}

// fromConfig honors settings.platform_type, resolving aliases. An
// unknown name is skipped rather than failing the chain; Validate
// reports it to the operator separately.
func fromConfig(in Input) (Result, bool) {
	if in.Config == nil || in.Config.Settings.PlatformType == "" {
		return Result{}, false
	}
	id := in.Config.ResolveAlias(in.Config.Settings.PlatformType)
	if _, known := platform.ByID(id); !known {
		return Result{}, false
	}
	return Result{PlatformID: id, Signal: SignalConfig}, true
}

func fromToken(in Input) (Result, bool) {
	d, ok := platform.MatchToken(in.Token)
	if !ok {
		return Result{}, false
	}
	return Result{PlatformID: d.ID, Signal: SignalToken}, true
}

func fromDefault(in Input) Result {
	if in.Config != nil {
		id := in.Config.ResolveAlias(in.Config.Settings.DefaultPlatform)
		if _, known := platform.ByID(id); known {
			return Result{PlatformID: id, Signal: SignalDefault}
		}
	}
	return Result{PlatformID: "gaccode", Signal: SignalFallback}
}
