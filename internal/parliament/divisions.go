package parliament

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type divisionSummary struct {
	DivisionID int    `json:"DivisionId"`
	Title      string `json:"Title"`
	Date       string `json:"Date"`
	AyeCount   int    `json:"AyeCount"`
	NoCount    int    `json:"NoCount"`
}

type divisionDetail struct {
	Ayes []divisionVoter `json:"Ayes"`
	Noes []divisionVoter `json:"Noes"`
}

type divisionVoter struct {
	MemberID int    `json:"MemberId"`
	Name     string `json:"Name"`
	Party    string `json:"Party"`
}

// Caps on how much of a division we expand into contributions; a popular
// division has 600+ voters and would swamp the classifier queue.
const (
	maxDivisionsPerKeyword = 10
	maxVotersPerSide       = 50
)

// SearchDivisions searches Commons Divisions and expands the most relevant
// matches into one contribution per recorded vote.
func (c *Client) SearchDivisions(ctx context.Context, keyword string, dr DateRange) ([]Contribution, error) {
	params := url.Values{}
	params.Set("queryParameters.searchTerm", keyword)
	params.Set("queryParameters.startDate", dr.From)
	params.Set("queryParameters.endDate", dr.To)
	params.Set("queryParameters.take", "25")
	params.Set("queryParameters.skip", "0")

	var summaries []divisionSummary
	endpoint := c.cfg.Endpoints.Divisions + "/data/divisions.json/search"
	if err := c.getJSON(ctx, endpoint, params, &summaries); err != nil {
		return nil, err
	}

	var contributions []Contribution
	for i, div := range summaries {
		if i >= maxDivisionsPerKeyword {
			break
		}
		var detail divisionDetail
		detailURL := fmt.Sprintf("%s/data/divisions.json/%d", c.cfg.Endpoints.Divisions, div.DivisionID)
		if err := c.getJSON(ctx, detailURL, nil, &detail); err != nil {
			continue
		}

		dt := parseAPIDate(div.Date)
		link := fmt.Sprintf("https://commonsvotes.digiminster.com/Divisions/Details/%d", div.DivisionID)

		appendVotes := func(voters []divisionVoter, side, verb string) {
			for j, voter := range voters {
				if j >= maxVotersPerSide {
					break
				}
				if voter.Name == "" {
					continue
				}
				contributions = append(contributions, Contribution{
					NativeID:   fmt.Sprintf("div-%d-%s-%d", div.DivisionID, side, voter.MemberID),
					MemberName: strings.TrimSpace(voter.Name),
					MemberID:   strconv.Itoa(voter.MemberID),
					Text: fmt.Sprintf("Voted %s on: %s (Ayes: %d, Noes: %d)",
						verb, div.Title, div.AyeCount, div.NoCount),
					Date:            dt,
					House:           "Commons",
					Source:          SourceDivision,
					Context:         "Division: " + div.Title,
					URL:             link,
					MatchedKeywords: []string{keyword},
				})
			}
		}
		appendVotes(detail.Ayes, "aye", "Aye")
		appendVotes(detail.Noes, "no", "No")
	}

	return contributions, nil
}
