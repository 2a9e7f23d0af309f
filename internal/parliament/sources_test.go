package parliament

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

var testRange = DateRange{From: "2026-01-01", To: "2026-12-31"}

func TestSearchDebatesPaginates(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		skip, _ := strconv.Atoi(r.URL.Query().Get("queryParameters.skip"))
		page := hansardSearchResponse{TotalContributions: 40}
		if skip < 40 {
			for i := 0; i < 20; i++ {
				page.Contributions = append(page.Contributions, hansardItem{
					ContributionExtID: fmt.Sprintf("c-%d", skip+i),
					MemberName:        "Test Member",
					ContributionText:  "We must invest in affordable housing.",
					SittingDate:       "2026-03-14T00:00:00",
					House:             "Commons",
					DebateSection:     "Housing Supply",
				})
			}
		}
		_ = json.NewEncoder(w).Encode(page)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	found, err := c.SearchDebates(context.Background(), "housing", testRange)
	require.NoError(t, err)
	require.Len(t, found, 40)
	require.Equal(t, SourceDebate, found[0].Source)
	require.Equal(t, []string{"housing"}, found[0].MatchedKeywords)
	require.Equal(t, "c-0", found[0].NativeID)
}

func TestSearchDebatesHonoursMaxPages(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		page := hansardSearchResponse{TotalContributions: 100000}
		for i := 0; i < 20; i++ {
			page.Contributions = append(page.Contributions, hansardItem{
				ContributionExtID: fmt.Sprintf("c-%d-%d", calls.Load(), i),
				MemberName:        "Test Member",
				ContributionText:  "text",
				SittingDate:       "2026-03-14",
			})
		}
		_ = json.NewEncoder(w).Encode(page)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	c.cfg.MaxPages = 3
	found, err := c.SearchDebates(context.Background(), "housing", testRange)
	require.NoError(t, err)
	require.EqualValues(t, 3, calls.Load())
	require.Len(t, found, 60)
}

func TestSearchDebatesSkipsAnonymousAndEmpty(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(hansardSearchResponse{
			TotalContributions: 3,
			Contributions: []hansardItem{
				{ContributionExtID: "ok", MemberName: "A Member", ContributionText: "speech", SittingDate: "2026-02-01"},
				{ContributionExtID: "no-name", ContributionText: "speech", SittingDate: "2026-02-01"},
				{ContributionExtID: "no-text", MemberName: "A Member", SittingDate: "2026-02-01"},
			},
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	found, err := c.SearchDebates(context.Background(), "housing", testRange)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "ok", found[0].NativeID)
}

func TestSearchWrittenQuestionsEmitsBothSides(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/writtenquestions/questions", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(writtenQuestionsResponse{
			TotalResults: 1,
			Results: []struct {
				Value writtenQuestion `json:"value"`
			}{{Value: writtenQuestion{
				ID:                7,
				UIN:               "12345",
				QuestionText:      "To ask about rail electrification plans.",
				AnswerText:        "Plans will be published in the spring.",
				Heading:           "Rail Electrification",
				House:             "Commons",
				DateTabled:        "2026-02-10",
				DateAnswered:      "2026-02-20",
				AskingMemberID:    101,
				AskingMember:      &questionMember{ID: 101, Name: "Asking Member"},
				AnsweringMemberID: 202,
				AnsweringMember:   &questionMember{ID: 202, Name: "Answering Minister"},
			}}},
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	found, err := c.SearchWrittenQuestions(context.Background(), "rail", testRange)
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, "wq-q-7", found[0].NativeID)
	require.Equal(t, "Asking Member", found[0].MemberName)
	require.Equal(t, "wq-a-7", found[1].NativeID)
	require.Equal(t, "Answering Minister", found[1].MemberName)
	require.Equal(t, SourceWrittenQuestion, found[1].Source)
}

func TestFetchMemberWrittenQuestionsSkipsAnswers(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/writtenquestions/questions", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "101", r.URL.Query().Get("askingMemberId"))
		_ = json.NewEncoder(w).Encode(writtenQuestionsResponse{
			TotalResults: 1,
			Results: []struct {
				Value writtenQuestion `json:"value"`
			}{{Value: writtenQuestion{
				ID:                8,
				QuestionText:      "Question body.",
				AnswerText:        "Answer body.",
				DateTabled:        "2026-02-10",
				AskingMemberID:    101,
				AskingMember:      &questionMember{ID: 101, Name: "Asking Member"},
				AnsweringMemberID: 202,
				AnsweringMember:   &questionMember{ID: 202, Name: "Answering Minister"},
			}}},
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	found, err := c.FetchMemberWrittenQuestions(context.Background(), "101", "Asking Member", testRange)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "wq-q-8", found[0].NativeID)
	require.Equal(t, "101", found[0].MemberID)
}

func TestSearchWrittenStatements(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/writtenstatements/statements", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(writtenStatementsResponse{
			TotalResults: 1,
			Results: []struct {
				Value writtenStatement `json:"value"`
			}{{Value: writtenStatement{
				ID:       9,
				UIN:      "HCWS99",
				Text:     "<p>Statement about flood defences.</p>",
				Title:    "Flood Defences",
				House:    "Commons",
				DateMade: "2026-02-12",
				MemberID: 300,
				Member:   &questionMember{ID: 300, Name: "Statement Maker"},
			}}},
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	found, err := c.SearchWrittenStatements(context.Background(), "flood", testRange)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "ws-9", found[0].NativeID)
	require.Equal(t, "Statement about flood defences.", found[0].Text)
	require.Equal(t, SourceWrittenStatement, found[0].Source)
}

func TestSearchMotions(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/EarlyDayMotions/list", func(w http.ResponseWriter, _ *http.Request) {
		var resp motionsResponse
		resp.PagingInfo.Total = 1
		edm := earlyDayMotion{
			ID:            55,
			Title:         "Bus services in rural areas",
			MotionText:    "<p>That this House notes the decline of rural bus routes.</p>",
			DateTabled:    "2026-02-15",
			SponsorsCount: 12,
		}
		edm.PrimarySponsor.Name = "Sponsor Member"
		edm.PrimarySponsor.MnisID = 400
		resp.Response = []earlyDayMotion{edm}
		_ = json.NewEncoder(w).Encode(resp)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	found, err := c.SearchMotions(context.Background(), "bus", testRange)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "edm-55", found[0].NativeID)
	require.Equal(t, "Sponsor Member", found[0].MemberName)
	require.Equal(t, "Commons", found[0].House)
	require.Contains(t, found[0].Context, "12 sponsors")
}

func TestSearchBillsExpandsSponsorsAndFiltersDates(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/Bills", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(billsResponse{
			TotalResults: 2,
			Items: []billItem{
				{BillID: 1, ShortTitle: "Housing Bill", CurrentHouse: "Commons", LastUpdate: "2026-03-01"},
				{BillID: 2, ShortTitle: "Stale Bill", CurrentHouse: "Commons", LastUpdate: "2020-01-01"},
			},
		})
	})
	mux.HandleFunc("/api/v1/Bills/1", func(w http.ResponseWriter, _ *http.Request) {
		var detail billDetail
		detail.Sponsors = make([]struct {
			Member struct {
				MemberID int    `json:"memberId"`
				Name     string `json:"name"`
				House    string `json:"house"`
			} `json:"member"`
		}, 2)
		detail.Sponsors[0].Member.MemberID = 500
		detail.Sponsors[0].Member.Name = "First Sponsor"
		detail.Sponsors[1].Member.MemberID = 501
		detail.Sponsors[1].Member.Name = "Second Sponsor"
		_ = json.NewEncoder(w).Encode(detail)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	found, err := c.SearchBills(context.Background(), "housing", testRange)
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, "bill-1-500", found[0].NativeID)
	require.Equal(t, "bill-1-501", found[1].NativeID)
	require.Equal(t, SourceBill, found[0].Source)
	require.Contains(t, found[0].Text, "Housing Bill")
}

func TestSearchDivisionsExpandsVotes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/data/divisions.json/search", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]divisionSummary{
			{DivisionID: 77, Title: "Housing Bill: Second Reading", Date: "2026-03-02", AyeCount: 2, NoCount: 1},
		})
	})
	mux.HandleFunc("/data/divisions.json/77", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(divisionDetail{
			Ayes: []divisionVoter{
				{MemberID: 1, Name: "Aye Voter One"},
				{MemberID: 2, Name: "Aye Voter Two"},
			},
			Noes: []divisionVoter{
				{MemberID: 3, Name: "No Voter"},
			},
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	found, err := c.SearchDivisions(context.Background(), "housing", testRange)
	require.NoError(t, err)
	require.Len(t, found, 3)
	require.Equal(t, "div-77-aye-1", found[0].NativeID)
	require.Contains(t, found[0].Text, "Voted Aye")
	require.Equal(t, "div-77-no-3", found[2].NativeID)
	require.Contains(t, found[2].Text, "Voted No")
}

func TestSearchAllMergesAndDegradesOnFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	// Hansard succeeds with one hit; every other source 500s.
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(hansardSearchResponse{
			TotalContributions: 1,
			Contributions: []hansardItem{{
				ContributionExtID: "only",
				MemberName:        "Test Member",
				ContributionText:  "speech",
				SittingDate:       "2026-02-01",
			}},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	var started []string
	found := c.SearchAll(context.Background(), nil, "housing", testRange, nil,
		func(source string, _, _ int) { started = append(started, source) })

	require.Len(t, found, 1)
	require.Equal(t, "only", found[0].NativeID)
	require.Len(t, started, 6)
}

func TestSearchAllRespectsEnabledSources(t *testing.T) {
	t.Parallel()

	var hansardCalls, motionCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, _ *http.Request) {
		hansardCalls.Add(1)
		_ = json.NewEncoder(w).Encode(hansardSearchResponse{})
	})
	mux.HandleFunc("/EarlyDayMotions/list", func(w http.ResponseWriter, _ *http.Request) {
		motionCalls.Add(1)
		_ = json.NewEncoder(w).Encode(motionsResponse{})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	c.SearchAll(context.Background(), nil, "housing", testRange, []string{"debates"}, nil)

	require.EqualValues(t, 1, hansardCalls.Load())
	require.EqualValues(t, 0, motionCalls.Load())
}

type stubCancel struct{ cancelled bool }

func (s *stubCancel) Cancelled() bool { return s.cancelled }

func TestSearchAllStopsWhenCancelled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("{}"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	found := c.SearchAll(context.Background(), &stubCancel{cancelled: true}, "housing", testRange, nil, nil)
	require.Empty(t, found)
	require.EqualValues(t, 0, calls.Load())
}

func TestFetchMemberAllFillsMemberIdentity(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "101", r.URL.Query().Get("queryParameters.memberId"))
		_ = json.NewEncoder(w).Encode(hansardSearchResponse{
			TotalContributions: 1,
			Contributions: []hansardItem{{
				ContributionExtID: "m-1",
				AttributedTo:      "Test Member",
				ContributionText:  "member speech",
				SittingDate:       "2026-02-01",
			}},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	found := c.FetchMemberAll(context.Background(), nil, "101", "Test Member", testRange, []string{"debates"})
	require.Len(t, found, 1)
	require.Equal(t, "101", found[0].MemberID)
	require.Equal(t, "Test Member", found[0].MemberName)
}
