package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DrayChou/gaccode-statusline/internal/render"
)

type kimi struct {
	desc Descriptor
	api  *apiClient
}

func newKimi(baseURL, token string, timeout time.Duration) Provider {
	d, _ := ByID("kimi")
	return &kimi{desc: d, api: newAPIClient(baseURL, token, timeout)}
}

func (p *kimi) Descriptor() Descriptor { return p.desc }

func (p *kimi) FetchBalance(ctx context.Context) (json.RawMessage, error) {
	return p.api.getJSON(ctx, "/users/me/balance")
}

func (p *kimi) FetchSubscription(ctx context.Context) (json.RawMessage, error) {
	return nil, nil
}

func (p *kimi) FormatBalance(payload json.RawMessage) string {
	if payload == nil {
		return "KIMI.B:" + render.Dim.Render("NoData")
	}

	var resp struct {
		Code   int  `json:"code"`
		Status bool `json:"status"`
		Data   struct {
			AvailableBalance flexFloat `json:"available_balance"`
			VoucherBalance   flexFloat `json:"voucher_balance"`
			CashBalance      flexFloat `json:"cash_balance"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "KIMI.B:Error"
	}
	if resp.Code != 0 || !resp.Status {
		return "KIMI.B:Error"
	}

	available := float64(resp.Data.AvailableBalance)
	voucher := float64(resp.Data.VoucherBalance)
	cash := float64(resp.Data.CashBalance)

	// CNY suffix instead of the currency symbol so the segment survives
	// shells with broken UTF-8 handling.
	style := render.Threshold(available, 5, 20)
	out := "KIMI.B:" + style.Render(fmt.Sprintf("%.2fCNY", available))

	if voucher > 0 {
		out += fmt.Sprintf(" (V:%.2f", voucher)
		if cash != 0 {
			out += fmt.Sprintf(", C:%.2f", cash)
		}
		out += ")"
	} else if cash != available {
		out += fmt.Sprintf(" (C:%.2f)", cash)
	}
	return out
}

func (p *kimi) FormatSubscription(payload json.RawMessage) string {
	return ""
}
