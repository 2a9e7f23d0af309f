package parliament

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type motionsResponse struct {
	Response   []earlyDayMotion `json:"Response"`
	PagingInfo struct {
		Total int `json:"Total"`
	} `json:"PagingInfo"`
}

type earlyDayMotion struct {
	ID             int    `json:"Id"`
	Title          string `json:"Title"`
	MotionText     string `json:"MotionText"`
	DateTabled     string `json:"DateTabled"`
	SponsorsCount  int    `json:"SponsorsCount"`
	PrimarySponsor struct {
		Name   string `json:"Name"`
		MnisID int    `json:"MnisId"`
	} `json:"PrimarySponsor"`
}

// SearchMotions searches the Early Day Motions API.
func (c *Client) SearchMotions(ctx context.Context, keyword string, dr DateRange) ([]Contribution, error) {
	params := url.Values{}
	params.Set("searchTerm", keyword)
	return c.fetchMotionPages(ctx, params, dr, keyword)
}

// FetchMemberMotions lists EDMs where the member is the primary sponsor.
func (c *Client) FetchMemberMotions(ctx context.Context, memberID, memberName string, dr DateRange) ([]Contribution, error) {
	params := url.Values{}
	params.Set("primarySponsorId", memberID)
	contribs, err := c.fetchMotionPages(ctx, params, dr, "")
	if err != nil {
		return nil, err
	}
	for i := range contribs {
		if contribs[i].MemberName == "" {
			contribs[i].MemberName = memberName
		}
		if contribs[i].MemberID == "" || contribs[i].MemberID == "0" {
			contribs[i].MemberID = memberID
		}
	}
	return contribs, nil
}

func (c *Client) fetchMotionPages(ctx context.Context, base url.Values, dr DateRange, keyword string) ([]Contribution, error) {
	var contributions []Contribution
	skip := 0

	for page := 0; page < c.cfg.MaxPages; page++ {
		params := url.Values{}
		for k, vs := range base {
			params[k] = vs
		}
		params.Set("tabledStartDate", dr.From)
		params.Set("tabledEndDate", dr.To)
		params.Set("take", "100")
		params.Set("skip", strconv.Itoa(skip))

		var resp motionsResponse
		endpoint := c.cfg.Endpoints.Motions + "/EarlyDayMotions/list"
		if err := c.getJSON(ctx, endpoint, params, &resp); err != nil {
			return contributions, err
		}
		if len(resp.Response) == 0 {
			break
		}
		total := resp.PagingInfo.Total
		if total == 0 {
			total = len(resp.Response)
		}

		for _, edm := range resp.Response {
			if edm.PrimarySponsor.Name == "" {
				continue
			}
			text := edm.Title
			if edm.MotionText != "" {
				text = edm.Title + "\n\n" + stripHTML(edm.MotionText)
			}

			var keywords []string
			if keyword != "" {
				keywords = []string{keyword}
			}
			contributions = append(contributions, Contribution{
				NativeID:   fmt.Sprintf("edm-%d", edm.ID),
				MemberName: strings.TrimSpace(edm.PrimarySponsor.Name),
				MemberID:   strconv.Itoa(edm.PrimarySponsor.MnisID),
				Text:       text,
				Date:       parseAPIDate(edm.DateTabled),
				// EDMs are Commons only.
				House:           "Commons",
				Source:          SourceMotion,
				Context:         fmt.Sprintf("Early Day Motion: %s (%d sponsors)", edm.Title, edm.SponsorsCount),
				URL:             fmt.Sprintf("https://edm.parliament.uk/early-day-motion/%d", edm.ID),
				MatchedKeywords: keywords,
			})
		}

		skip += 100
		if skip >= total {
			break
		}
	}

	return contributions, nil
}
