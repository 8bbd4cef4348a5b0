package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DrayChou/gaccode-statusline/internal/render"
)

// gacCode talks to the GAC Code credits API. It is the primary platform
// and the only one with a subscription endpoint.
type gacCode struct {
	desc Descriptor
	api  *apiClient
}

func newGACCode(baseURL, token string, timeout time.Duration) Provider {
	d, _ := ByID("gaccode")
	return &gacCode{desc: d, api: newAPIClient(baseURL, token, timeout)}
}

func (p *gacCode) Descriptor() Descriptor { return p.desc }

func (p *gacCode) FetchBalance(ctx context.Context) (json.RawMessage, error) {
	return p.api.getJSON(ctx, "/credits/balance")
}

func (p *gacCode) FetchSubscription(ctx context.Context) (json.RawMessage, error) {
	return p.api.getJSON(ctx, "/subscriptions")
}

func (p *gacCode) FormatBalance(payload json.RawMessage) string {
	if payload == nil {
		return "GAC.B:" + render.Dim.Render("NoData")
	}

	var data struct {
		Balance   float64 `json:"balance"`
		CreditCap float64 `json:"creditCap"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return "GAC.B:Error"
	}

	style := render.Threshold(data.Balance, 500, 1000)
	return fmt.Sprintf("GAC.B:%s/%.0f", style.Render(fmt.Sprintf("%.0f", data.Balance)), data.CreditCap)
}

func (p *gacCode) FormatSubscription(payload json.RawMessage) string {
	if payload == nil {
		return ""
	}

	var data struct {
		Subscriptions []struct {
			EndDate string `json:"endDate"`
		} `json:"subscriptions"`
	}
	if err := json.Unmarshal(payload, &data); err != nil || len(data.Subscriptions) == 0 {
		return ""
	}

	end, err := time.Parse(time.RFC3339, data.Subscriptions[0].EndDate)
	if err != nil {
		return "Expires:Error"
	}

	daysLeft := int(time.Until(end).Hours() / 24)
	if daysLeft < 0 {
		daysLeft = 0
	}

	style := render.Threshold(float64(daysLeft), 7, 14)
	return "Expires:" + style.Render(fmt.Sprintf("%s(%dd)", end.Format("01-02"), daysLeft))
}
