package parliament

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type writtenStatementsResponse struct {
	TotalResults int `json:"totalResults"`
	Results      []struct {
		Value writtenStatement `json:"value"`
	} `json:"results"`
}

type writtenStatement struct {
	ID            int             `json:"id"`
	UIN           string          `json:"uin"`
	Text          string          `json:"text"`
	StatementText string          `json:"statementText"`
	Title         string          `json:"title"`
	Heading       string          `json:"heading"`
	House         string          `json:"house"`
	DateMade      string          `json:"dateMade"`
	MemberID      int             `json:"memberId"`
	Member        *questionMember `json:"member"`
	MakingMember  *questionMember `json:"makingMember"`
}

// SearchWrittenStatements searches the Written Statements API.
func (c *Client) SearchWrittenStatements(ctx context.Context, keyword string, dr DateRange) ([]Contribution, error) {
	params := url.Values{}
	params.Set("searchTerm", keyword)
	return c.fetchStatementPages(ctx, params, dr, keyword, "")
}

// FetchMemberWrittenStatements lists statements made by one member. The
// memberId query parameter is silently ignored by some API versions, so
// results are post-filtered by member id as well.
func (c *Client) FetchMemberWrittenStatements(ctx context.Context, memberID, memberName string, dr DateRange) ([]Contribution, error) {
	params := url.Values{}
	params.Set("memberId", memberID)
	contribs, err := c.fetchStatementPages(ctx, params, dr, "", memberID)
	if err != nil {
		return nil, err
	}
	for i := range contribs {
		if contribs[i].MemberName == "" {
			contribs[i].MemberName = memberName
		}
	}
	return contribs, nil
}

func (c *Client) fetchStatementPages(ctx context.Context, base url.Values, dr DateRange, keyword, onlyMemberID string) ([]Contribution, error) {
	var contributions []Contribution
	skip := 0

	for page := 0; page < c.cfg.MaxPages; page++ {
		params := url.Values{}
		for k, vs := range base {
			params[k] = vs
		}
		params.Set("madeWhenFrom", dr.From)
		params.Set("madeWhenTo", dr.To)
		params.Set("take", "20")
		params.Set("skip", strconv.Itoa(skip))

		var resp writtenStatementsResponse
		endpoint := c.cfg.Endpoints.WrittenQS + "/api/writtenstatements/statements"
		if err := c.getJSON(ctx, endpoint, params, &resp); err != nil {
			return contributions, err
		}
		if len(resp.Results) == 0 {
			break
		}

		for _, item := range resp.Results {
			st := item.Value
			text := st.Text
			if text == "" {
				text = st.StatementText
			}
			if text == "" {
				continue
			}

			heading := st.Title
			if heading == "" {
				heading = st.Heading
			}
			made := parseAPIDate(st.DateMade)

			member := st.Member
			if member == nil {
				member = st.MakingMember
			}
			name := ""
			itemMemberID := ""
			if st.MemberID != 0 {
				itemMemberID = strconv.Itoa(st.MemberID)
			}
			switch {
			case member != nil:
				name = member.Name
				if itemMemberID == "" && member.ID != 0 {
					itemMemberID = strconv.Itoa(member.ID)
				}
			case itemMemberID != "":
				info, err := c.LookupMember(ctx, itemMemberID)
				if err == nil {
					name = info.Name
				}
			}
			if name == "" {
				continue
			}
			if onlyMemberID != "" && itemMemberID != "" && itemMemberID != onlyMemberID {
				continue
			}

			link := ""
			if st.UIN != "" {
				link = fmt.Sprintf(
					"https://questions-statements.parliament.uk/written-statements/detail/%s/%s",
					made.Format("2006-01-02"), st.UIN)
			}

			var keywords []string
			if keyword != "" {
				keywords = []string{keyword}
			}
			contributions = append(contributions, Contribution{
				NativeID:        fmt.Sprintf("ws-%d", st.ID),
				MemberName:      strings.TrimSpace(name),
				MemberID:        itemMemberID,
				Text:            stripHTML(text),
				Date:            made,
				House:           st.House,
				Source:          SourceWrittenStatement,
				Context:         heading,
				URL:             link,
				MatchedKeywords: keywords,
			})
		}

		skip += 20
		if skip >= resp.TotalResults {
			break
		}
	}

	return contributions, nil
}
