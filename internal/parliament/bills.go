package parliament

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type billsResponse struct {
	TotalResults int        `json:"totalResults"`
	Items        []billItem `json:"items"`
}

type billItem struct {
	BillID       int    `json:"billId"`
	ShortTitle   string `json:"shortTitle"`
	LongTitle    string `json:"longTitle"`
	CurrentHouse string `json:"currentHouse"`
	LastUpdate   string `json:"lastUpdate"`
}

type billDetail struct {
	Sponsors []struct {
		Member struct {
			MemberID int    `json:"memberId"`
			Name     string `json:"name"`
			House    string `json:"house"`
		} `json:"member"`
	} `json:"sponsors"`
}

// SearchBills searches the Bills API and expands each matching bill into one
// contribution per sponsor. The list endpoint carries no sponsors and no date
// filter, so each match costs a detail fetch and dates are filtered locally.
func (c *Client) SearchBills(ctx context.Context, keyword string, dr DateRange) ([]Contribution, error) {
	var contributions []Contribution
	skip := 0

	from, _ := time.Parse("2006-01-02", dr.From)
	to, _ := time.Parse("2006-01-02", dr.To)
	to = to.Add(24*time.Hour - time.Nanosecond)

	for page := 0; page < c.cfg.MaxPages; page++ {
		params := url.Values{}
		params.Set("SearchTerm", keyword)
		params.Set("Skip", strconv.Itoa(skip))
		params.Set("Take", "20")

		var resp billsResponse
		if err := c.getJSON(ctx, c.cfg.Endpoints.Bills+"/api/v1/Bills", params, &resp); err != nil {
			return contributions, err
		}
		if len(resp.Items) == 0 {
			break
		}
		total := resp.TotalResults
		if total == 0 {
			total = len(resp.Items)
		}

		for _, bill := range resp.Items {
			title := bill.ShortTitle
			if title == "" {
				title = bill.LongTitle
			}
			updated := parseAPIDate(bill.LastUpdate)
			if updated.Before(from) || updated.After(to) {
				continue
			}

			var detail billDetail
			detailURL := fmt.Sprintf("%s/api/v1/Bills/%d", c.cfg.Endpoints.Bills, bill.BillID)
			if err := c.getJSON(ctx, detailURL, nil, &detail); err != nil {
				continue
			}

			link := fmt.Sprintf("https://bills.parliament.uk/bills/%d", bill.BillID)
			for _, sponsor := range detail.Sponsors {
				m := sponsor.Member
				if m.Name == "" {
					continue
				}
				house := bill.CurrentHouse
				if house == "" {
					house = m.House
				}
				if house == "" {
					house = "Commons"
				}
				contributions = append(contributions, Contribution{
					NativeID:        fmt.Sprintf("bill-%d-%d", bill.BillID, m.MemberID),
					MemberName:      strings.TrimSpace(m.Name),
					MemberID:        strconv.Itoa(m.MemberID),
					Text:            "Sponsor of bill: " + title,
					Date:            updated,
					House:           house,
					Source:          SourceBill,
					Context:         "Bill: " + title,
					URL:             link,
					MatchedKeywords: []string{keyword},
				})
			}
		}

		skip += 20
		if skip >= total {
			break
		}
	}

	return contributions, nil
}
