// Package statusline ties one invocation together: host input on
// stdin, platform detection, cached balance lookups, a rendered line
// on stdout. Everything inside degrades rather than fails; the line
// is produced even when every upstream is down.
package statusline

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/DrayChou/gaccode-statusline/internal/cache"
	"github.com/DrayChou/gaccode-statusline/internal/config"
	"github.com/DrayChou/gaccode-statusline/internal/detect"
	"github.com/DrayChou/gaccode-statusline/internal/platform"
	"github.com/DrayChou/gaccode-statusline/internal/render"
	"github.com/DrayChou/gaccode-statusline/internal/session"
)

// Run executes one status line invocation and returns the line to
// print. The error return is reserved for unusable configuration;
// fetch, parse and store failures degrade into the line itself.
func Run(ctx context.Context, stdin io.Reader, cfg *config.Config) (string, error) {
	in, err := session.ParseHostInput(stdin)
	if err != nil {
		log.WithField("error", err).Warn("Host input unparseable, continuing without session context")
	}

	store := session.New(session.Options{Path: cfg.MappingFile()})
	res := detect.Resolve(detect.Input{
		SessionID: in.SessionID,
		Token:     rawToken(),
		Config:    cfg,
		Store:     store,
	})

	pc, _ := cfg.Platform(res.PlatformID)
	baseURL := pc.APIBaseURL
	if res.Snapshot.APIBaseURL != "" {
		// The launch snapshot pins the endpoint the session actually
		// talks to, which may differ from today's config.
		baseURL = res.Snapshot.APIBaseURL
	}

	timeout := time.Duration(cfg.Settings.FetchTimeout) * time.Second
	prov, ok := platform.New(res.PlatformID, baseURL, pc.Token(res.PlatformID), timeout)
	if !ok {
		// Unreachable while detection only returns registry ids; keep
		// the line alive regardless.
		log.WithField("platform", res.PlatformID).Error("No provider for detected platform")
		return render.Compose(modelSegment(in), render.UnavailableMarker()), nil
	}

	mgr := cache.NewManager(cfg.CacheDir(),
		time.Duration(cfg.Settings.MinFetchInterval)*time.Second, timeout)

	composeLine := func(ctx context.Context) string {
		return render.Compose(
			modelSegment(in),
			balanceSegment(ctx, mgr, prov, cfg),
			subscriptionSegment(ctx, mgr, prov, cfg),
		)
	}

	// The rendered line itself sits in the immediate tier, keyed by
	// session, so bursts of invocations within a second share one
	// composition. Without a session id there is no stable key.
	if in.SessionID == "" {
		return composeLine(ctx), nil
	}

	uiKey := cache.Key{Class: cache.ClassUIState, Platform: res.PlatformID, Sub: in.SessionID}
	r, err := mgr.GetOrFetch(ctx, uiKey, cache.TTLUIState, func(ctx context.Context) (json.RawMessage, error) {
		return json.Marshal(composeLine(ctx))
	})
	if err != nil {
		return composeLine(ctx), nil
	}
	var line string
	if err := json.Unmarshal(r.Payload, &line); err != nil {
		return composeLine(ctx), nil
	}
	return line, nil
}

// modelSegment shows the active model's display name when the host
// provided one.
func modelSegment(in session.HostInput) string {
	name := in.Model.DisplayName
	if name == "" {
		name = in.Model.ID
	}
	if name == "" {
		return ""
	}
	return render.Magenta.Render(name)
}

func balanceSegment(ctx context.Context, mgr *cache.Manager, prov platform.Provider, cfg *config.Config) string {
	id := prov.Descriptor().ID
	if !cfg.Usable(id) {
		// No credential, nothing to fetch.
		return prov.FormatBalance(nil)
	}

	r, err := mgr.GetOrFetch(ctx, cache.Key{Class: cache.ClassBalance, Platform: id},
		cache.TTLBalance, prov.FetchBalance)
	if err != nil {
		return render.Compose(prov.FormatBalance(nil), render.UnavailableMarker())
	}

	seg := prov.FormatBalance(r.Payload)
	if r.Stale {
		seg = render.Compose(seg, render.StaleMarker(r.Age))
	}
	return seg
}

func subscriptionSegment(ctx context.Context, mgr *cache.Manager, prov platform.Provider, cfg *config.Config) string {
	id := prov.Descriptor().ID
	if !cfg.Usable(id) {
		return ""
	}
	r, err := mgr.GetOrFetch(ctx, cache.Key{Class: cache.ClassSubscription, Platform: id},
		cache.TTLSubscription, prov.FetchSubscription)
	if err != nil {
		// The balance segment already shows the outage; stay quiet here.
		return ""
	}

	seg := prov.FormatSubscription(r.Payload)
	if seg != "" && r.Stale {
		seg = render.Compose(seg, render.StaleMarker(r.Age))
	}
	return seg
}

// rawToken is the credential visible in the host environment, used
// only by the token-shape detection signal.
func rawToken() string {
	if t := os.Getenv("ANTHROPIC_AUTH_TOKEN"); t != "" {
		return t
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}
