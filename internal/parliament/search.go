package parliament

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type sourceFn func(ctx context.Context, keyword string, dr DateRange) ([]Contribution, error)

type namedSource struct {
	name   string
	key    string
	search sourceFn
}

func (c *Client) searchSources() []namedSource {
	return []namedSource{
		{"Hansard", "debates", c.SearchDebates},
		{"Written Questions", "written_questions", c.SearchWrittenQuestions},
		{"Written Statements", "written_statements", c.SearchWrittenStatements},
		{"Early Day Motions", "motions", c.SearchMotions},
		{"Bills", "bills", c.SearchBills},
		{"Divisions", "divisions", c.SearchDivisions},
	}
}

// SearchAll fans one keyword out to every enabled source in parallel.
// Individual source failures are logged and contribute zero results; the
// aggregate call never fails. onSourceStart, when non-nil, is invoked once
// per source before that source begins.
func (c *Client) SearchAll(
	ctx context.Context,
	cancel CancelCheck,
	keyword string,
	dr DateRange,
	enabled []string,
	onSourceStart func(source string, index, total int),
) []Contribution {
	sources := filterSources(c.searchSources(), enabled)

	results := make([][]Contribution, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		if cancel != nil && cancel.Cancelled() {
			break
		}
		if onSourceStart != nil {
			onSourceStart(src.name, i, len(sources))
		}
		wg.Add(1)
		go func(i int, src namedSource) {
			defer wg.Done()
			found, err := src.search(ctx, keyword, dr)
			if err != nil {
				c.logger.Error("source search failed",
					zap.String("source", src.name),
					zap.String("keyword", keyword),
					zap.Error(err))
			}
			// Partial pages gathered before the failure still count.
			results[i] = found
			c.logger.Info("source search finished",
				zap.String("source", src.name),
				zap.String("keyword", keyword),
				zap.Int("results", len(found)))
		}(i, src)
	}
	wg.Wait()

	var merged []Contribution
	for _, found := range results {
		merged = append(merged, found...)
	}
	return merged
}

// FetchMemberAll fetches all activity for one member across every source
// with a per-member endpoint, in parallel. Bills and Divisions have no such
// endpoint; keyword+member runs still cover them via post-filtering.
func (c *Client) FetchMemberAll(
	ctx context.Context,
	cancel CancelCheck,
	memberID, memberName string,
	dr DateRange,
	enabled []string,
) []Contribution {
	type memberFn func(ctx context.Context, memberID, memberName string, dr DateRange) ([]Contribution, error)
	all := []struct {
		key   string
		fetch memberFn
	}{
		{"debates", c.FetchMemberDebates},
		{"written_questions", c.FetchMemberWrittenQuestions},
		{"written_statements", c.FetchMemberWrittenStatements},
		{"motions", c.FetchMemberMotions},
	}

	allowed := keySet(enabled)
	results := make([][]Contribution, len(all))
	var wg sync.WaitGroup
	for i, src := range all {
		if allowed != nil {
			if _, ok := allowed[src.key]; !ok {
				continue
			}
		}
		if cancel != nil && cancel.Cancelled() {
			break
		}
		wg.Add(1)
		go func(i int, key string, fetch memberFn) {
			defer wg.Done()
			found, err := fetch(ctx, memberID, memberName, dr)
			if err != nil {
				c.logger.Error("member fetch failed",
					zap.String("source", key),
					zap.String("member_id", memberID),
					zap.Error(err))
			}
			results[i] = found
			c.logger.Info("member fetch finished",
				zap.String("source", key),
				zap.String("member_id", memberID),
				zap.Int("results", len(found)))
		}(i, src.key, src.fetch)
	}
	wg.Wait()

	var merged []Contribution
	for _, found := range results {
		merged = append(merged, found...)
	}
	return merged
}

func filterSources(sources []namedSource, enabled []string) []namedSource {
	allowed := keySet(enabled)
	if allowed == nil {
		return sources
	}
	out := sources[:0:0]
	for _, s := range sources {
		if _, ok := allowed[s.key]; ok {
			out = append(out, s)
		}
	}
	return out
}

func keySet(keys []string) map[string]struct{} {
	if keys == nil {
		return nil
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
