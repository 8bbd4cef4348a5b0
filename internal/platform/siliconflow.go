package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DrayChou/gaccode-statusline/internal/render"
)

type siliconFlow struct {
	desc Descriptor
	api  *apiClient
}

func newSiliconFlow(baseURL, token string, timeout time.Duration) Provider {
	d, _ := ByID("siliconflow")
	return &siliconFlow{desc: d, api: newAPIClient(baseURL, token, timeout)}
}

func (p *siliconFlow) Descriptor() Descriptor { return p.desc }

func (p *siliconFlow) FetchBalance(ctx context.Context) (json.RawMessage, error) {
	return p.api.getJSON(ctx, "/user/info")
}

func (p *siliconFlow) FetchSubscription(ctx context.Context) (json.RawMessage, error) {
	return nil, nil
}

func (p *siliconFlow) FormatBalance(payload json.RawMessage) string {
	if payload == nil {
		return "SiliconFlow.B:" + render.Dim.Render("NoData")
	}

	var resp struct {
		Code   int  `json:"code"`
		Status bool `json:"status"`
		Data   struct {
			TotalBalance  flexFloat `json:"totalBalance"`
			Balance       flexFloat `json:"balance"`
			ChargeBalance flexFloat `json:"chargeBalance"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "SiliconFlow.B:Error"
	}
	if resp.Code != 20000 || !resp.Status {
		return "SiliconFlow.B:Error"
	}

	total := float64(resp.Data.TotalBalance)
	balance := float64(resp.Data.Balance)
	charge := float64(resp.Data.ChargeBalance)

	style := render.Threshold(total, 5, 20)
	out := "SiliconFlow.B:" + style.Render(fmt.Sprintf("¥%.2f", total))

	// Breakdown: M = charged (main) balance, F = free/granted balance.
	if charge > 0 || balance != total {
		var details []string
		if charge > 0 {
			details = append(details, fmt.Sprintf("M:¥%.2f", charge))
		}
		if balance > 0 && balance != charge {
			details = append(details, fmt.Sprintf("F:¥%.2f", balance))
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
	}
	return out
}

func (p *siliconFlow) FormatSubscription(payload json.RawMessage) string {
	return ""
}
