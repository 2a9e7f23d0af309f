package parliament

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type writtenQuestionsResponse struct {
	TotalResults int `json:"totalResults"`
	Results      []struct {
		Value writtenQuestion `json:"value"`
	} `json:"results"`
}

type writtenQuestion struct {
	ID                int             `json:"id"`
	UIN               string          `json:"uin"`
	QuestionText      string          `json:"questionText"`
	AnswerText        string          `json:"answerText"`
	Heading           string          `json:"heading"`
	House             string          `json:"house"`
	DateTabled        string          `json:"dateTabled"`
	DateAnswered      string          `json:"dateAnswered"`
	AskingMemberID    int             `json:"askingMemberId"`
	AskingMember      *questionMember `json:"askingMember"`
	AnsweringMemberID int             `json:"answeringMemberId"`
	AnsweringMember   *questionMember `json:"answeringMember"`
}

type questionMember struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// SearchWrittenQuestions searches the Written Questions API. Both the asking
// member's question and the answering member's response are emitted as
// separate contributions so each side of the exchange can be classified.
func (c *Client) SearchWrittenQuestions(ctx context.Context, keyword string, dr DateRange) ([]Contribution, error) {
	params := url.Values{}
	params.Set("searchTerm", keyword)
	return c.fetchQuestionPages(ctx, params, dr, keyword, true)
}

// FetchMemberWrittenQuestions lists written questions asked by one member.
func (c *Client) FetchMemberWrittenQuestions(ctx context.Context, memberID, memberName string, dr DateRange) ([]Contribution, error) {
	params := url.Values{}
	params.Set("askingMemberId", memberID)
	contribs, err := c.fetchQuestionPages(ctx, params, dr, "", false)
	if err != nil {
		return nil, err
	}
	for i := range contribs {
		if contribs[i].MemberName == "" {
			contribs[i].MemberName = memberName
		}
		contribs[i].MemberID = memberID
	}
	return contribs, nil
}

func (c *Client) fetchQuestionPages(ctx context.Context, base url.Values, dr DateRange, keyword string, includeAnswers bool) ([]Contribution, error) {
	var contributions []Contribution
	skip := 0

	for page := 0; page < c.cfg.MaxPages; page++ {
		params := url.Values{}
		for k, vs := range base {
			params[k] = vs
		}
		params.Set("tabledWhenFrom", dr.From)
		params.Set("tabledWhenTo", dr.To)
		params.Set("take", "20")
		params.Set("skip", strconv.Itoa(skip))

		var resp writtenQuestionsResponse
		endpoint := c.cfg.Endpoints.WrittenQS + "/api/writtenquestions/questions"
		if err := c.getJSON(ctx, endpoint, params, &resp); err != nil {
			return contributions, err
		}
		if len(resp.Results) == 0 {
			break
		}

		for _, item := range resp.Results {
			q := item.Value
			tabled := parseAPIDate(q.DateTabled)

			link := ""
			if q.UIN != "" {
				link = fmt.Sprintf(
					"https://questions-statements.parliament.uk/written-questions/detail/%s/%s",
					tabled.Format("2006-01-02"), q.UIN)
			}

			var keywords []string
			if keyword != "" {
				keywords = []string{keyword}
			}

			if q.QuestionText != "" && q.AskingMemberID != 0 {
				name := ""
				if q.AskingMember != nil {
					name = q.AskingMember.Name
				}
				if name == "" {
					info, err := c.LookupMember(ctx, strconv.Itoa(q.AskingMemberID))
					if err == nil {
						name = info.Name
					}
				}
				if name != "" {
					contributions = append(contributions, Contribution{
						NativeID:        fmt.Sprintf("wq-q-%d", q.ID),
						MemberName:      strings.TrimSpace(name),
						MemberID:        strconv.Itoa(q.AskingMemberID),
						Text:            stripHTML(q.QuestionText),
						Date:            tabled,
						House:           q.House,
						Source:          SourceWrittenQuestion,
						Context:         q.Heading,
						URL:             link,
						MatchedKeywords: keywords,
					})
				}
			}

			if includeAnswers && q.AnswerText != "" && q.AnsweringMemberID != 0 {
				name := ""
				if q.AnsweringMember != nil {
					name = q.AnsweringMember.Name
				}
				if name == "" {
					info, err := c.LookupMember(ctx, strconv.Itoa(q.AnsweringMemberID))
					if err == nil {
						name = info.Name
					}
				}
				if name != "" {
					answered := tabled
					if q.DateAnswered != "" {
						answered = parseAPIDate(q.DateAnswered)
					}
					contributions = append(contributions, Contribution{
						NativeID:        fmt.Sprintf("wq-a-%d", q.ID),
						MemberName:      strings.TrimSpace(name),
						MemberID:        strconv.Itoa(q.AnsweringMemberID),
						Text:            stripHTML(q.AnswerText),
						Date:            answered,
						House:           q.House,
						Source:          SourceWrittenQuestion,
						Context:         q.Heading,
						URL:             link,
						MatchedKeywords: keywords,
					})
				}
			}
		}

		skip += 20
		if skip >= resp.TotalResults {
			break
		}
	}

	return contributions, nil
}
