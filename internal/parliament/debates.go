package parliament

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type hansardSearchResponse struct {
	TotalContributions int           `json:"TotalContributions"`
	Contributions      []hansardItem `json:"Contributions"`
}

type hansardItem struct {
	ItemID               string `json:"ItemId"`
	ContributionExtID    string `json:"ContributionExtId"`
	DebateSectionExtID   string `json:"DebateSectionExtId"`
	MemberName           string `json:"MemberName"`
	AttributedTo         string `json:"AttributedTo"`
	MemberID             int    `json:"MemberId"`
	ContributionText     string `json:"ContributionText"`
	ContributionTextFull string `json:"ContributionTextFull"`
	SittingDate          string `json:"SittingDate"`
	House                string `json:"House"`
	DebateSection        string `json:"DebateSection"`
	HansardSection       string `json:"HansardSection"`
}

// SearchDebates queries the Hansard API for oral contributions matching the
// keyword, paginating up to MaxPages.
func (c *Client) SearchDebates(ctx context.Context, keyword string, dr DateRange) ([]Contribution, error) {
	params := url.Values{}
	params.Set("queryParameters.searchTerm", keyword)
	return c.fetchDebatePages(ctx, params, dr, keyword)
}

// FetchMemberDebates lists all Hansard contributions made by one member.
func (c *Client) FetchMemberDebates(ctx context.Context, memberID, memberName string, dr DateRange) ([]Contribution, error) {
	params := url.Values{}
	params.Set("queryParameters.memberId", memberID)
	contribs, err := c.fetchDebatePages(ctx, params, dr, "")
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

func (c *Client) fetchDebatePages(ctx context.Context, base url.Values, dr DateRange, keyword string) ([]Contribution, error) {
	var contributions []Contribution
	skip := 0

	for page := 0; page < c.cfg.MaxPages; page++ {
		params := url.Values{}
		for k, vs := range base {
			params[k] = vs
		}
		params.Set("queryParameters.startDate", dr.From)
		params.Set("queryParameters.endDate", dr.To)
		params.Set("queryParameters.take", "20")
		params.Set("queryParameters.skip", strconv.Itoa(skip))
		params.Set("queryParameters.orderBy", "SittingDateDesc")

		var resp hansardSearchResponse
		if err := c.getJSON(ctx, c.cfg.Endpoints.Hansard+"/search.json", params, &resp); err != nil {
			return contributions, err
		}
		if len(resp.Contributions) == 0 {
			break
		}

		for _, item := range resp.Contributions {
			name := item.MemberName
			if name == "" {
				name = item.AttributedTo
			}
			text := item.ContributionTextFull
			if text == "" {
				text = item.ContributionText
			}
			if name == "" || text == "" {
				continue
			}

			dt := parseAPIDate(item.SittingDate)
			title := item.DebateSection
			if title == "" {
				title = item.HansardSection
			}
			id := item.ContributionExtID
			if id == "" {
				id = item.ItemID
			}

			var keywords []string
			if keyword != "" {
				keywords = []string{keyword}
			}
			contributions = append(contributions, Contribution{
				NativeID:        id,
				MemberName:      strings.TrimSpace(name),
				MemberID:        strconv.Itoa(item.MemberID),
				Text:            stripHTML(text),
				Date:            dt,
				House:           item.House,
				Source:          SourceDebate,
				Context:         title,
				URL:             hansardURL(item.House, dt.Format("2006-01-02"), item.DebateSectionExtID, title, item.ContributionExtID),
				MatchedKeywords: keywords,
			})
		}

		skip += len(resp.Contributions)
		if skip >= resp.TotalContributions {
			break
		}
	}

	return contributions, nil
}

// hansardURL builds the canonical Hansard deep link for a contribution,
// falling back to the search URL when the debate section id is missing.
func hansardURL(house, date, sectionExtID, title, contribExtID string) string {
	if sectionExtID == "" || contribExtID == "" {
		if contribExtID != "" {
			return "https://hansard.parliament.uk/search/contribution?contributionId=" + contribExtID
		}
		return ""
	}
	houseLower := "commons"
	if house != "" {
		houseLower = strings.ToLower(house)
	}
	slug := "debate"
	if title != "" {
		slug = slugify(title)
	}
	return fmt.Sprintf("https://hansard.parliament.uk/%s/%s/debates/%s/%s#contribution-%s",
		houseLower, date, sectionExtID, slug, contribExtID)
}
