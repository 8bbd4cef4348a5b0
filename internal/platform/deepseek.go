package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/DrayChou/gaccode-statusline/internal/render"
)

// deepSeek covers both the DeepSeek API and the local proxy, which
// speaks the same wire contract against a local endpoint.
type deepSeek struct {
	desc  Descriptor
	api   *apiClient
	label string
}

func newDeepSeek(baseURL, token string, timeout time.Duration) Provider {
	d, _ := ByID("deepseek")
	return &deepSeek{desc: d, api: newAPIClient(baseURL, token, timeout), label: "DeepSeek.B"}
}

func newLocalProxy(baseURL, token string, timeout time.Duration) Provider {
	d, _ := ByID("local_proxy")
	return &deepSeek{desc: d, api: newAPIClient(baseURL, token, timeout), label: "Proxy.B"}
}

func (p *deepSeek) Descriptor() Descriptor { return p.desc }

func (p *deepSeek) FetchBalance(ctx context.Context) (json.RawMessage, error) {
	return p.api.getJSON(ctx, "/user/balance")
}

// FetchSubscription is a no-op: the DeepSeek API has no subscription
// endpoint.
func (p *deepSeek) FetchSubscription(ctx context.Context) (json.RawMessage, error) {
	return nil, nil
}

func (p *deepSeek) FormatBalance(payload json.RawMessage) string {
	if payload == nil {
		return p.label + ":" + render.Dim.Render("NoData")
	}

	var data struct {
		IsAvailable  bool `json:"is_available"`
		BalanceInfos []struct {
			Currency     string    `json:"currency"`
			TotalBalance flexFloat `json:"total_balance"`
		} `json:"balance_infos"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return p.label + ":Error"
	}
	if !data.IsAvailable {
		return p.label + ":" + render.Red.Render("Unavailable")
	}
	if len(data.BalanceInfos) == 0 {
		return p.label + ":" + render.Red.Render("No Info")
	}

	primary := data.BalanceInfos[0]
	total := float64(primary.TotalBalance)

	style := render.Threshold(total, 1, 10)
	out := fmt.Sprintf("%s:%s", p.label, style.Render(currencyAmount(primary.Currency, total)))

	// Extra balance pools (granted credits etc.) shown in parentheses.
	var details []string
	for _, info := range data.BalanceInfos[1:] {
		bal := float64(info.TotalBalance)
		if bal > 0 {
			details = append(details, currencyAmount(info.Currency, bal))
		}
	}
	if len(details) > 0 {
		out += " ("
		for i, d := range details {
			if i > 0 {
				out += ", "
			}
			out += d
		}
		out += ")"
	}
	return out
}

func (p *deepSeek) FormatSubscription(payload json.RawMessage) string {
	return ""
}

func currencyAmount(currency string, v float64) string {
	symbol := "$"
	if currency == "CNY" {
		symbol = "¥"
	}
	return symbol + strconv.FormatFloat(v, 'f', 2, 64)
}
