package scan

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oversightlabs/parlscan/internal/parliament"
)

func substantiveContribution(id, keyword string) *parliament.Contribution {
	return &parliament.Contribution{
		NativeID:        id,
		Source:          parliament.SourceDebate,
		Text:            "We believe the Government must act decisively on this matter of policy.",
		MatchedKeywords: []string{keyword},
	}
}

func TestRegistryAdmitOncePerIdentity(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	first := substantiveContribution("100", "climate")
	require.Equal(t, Enqueued, r.Admit(first))
	require.Equal(t, MergedDuplicate, r.Admit(substantiveContribution("100", "net zero")))
	require.Equal(t, MergedDuplicate, r.Admit(substantiveContribution("100", "climate")))

	// Keywords from duplicates fold into the registry's union, not into the
	// admitted copy, which stays untouched once enqueued.
	require.Equal(t, []string{"climate", "net zero"}, r.Keywords(first.DedupKey()))
	require.Equal(t, []string{"climate"}, first.MatchedKeywords)
	require.Equal(t, 1, r.UniqueCount())
}

func TestRegistryDuplicatesDoNotTouchAdmittedContribution(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	first := substantiveContribution("500", "climate")
	require.Equal(t, Enqueued, r.Admit(first))

	// A classification worker reads the admitted copy while keyword
	// searches keep merging duplicates of the same identity.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			dup := substantiveContribution("500", fmt.Sprintf("kw-%d", i))
			r.Admit(dup)
		}
	}()
	for i := 0; i < 200; i++ {
		copied := *first
		require.Equal(t, "debate:500", copied.DedupKey())
		require.Equal(t, []string{"climate"}, copied.MatchedKeywords)
	}
	<-done

	require.Len(t, r.Keywords(first.DedupKey()), 201)
}

func TestRegistryAdmitAllKeepsShortItems(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	short := &parliament.Contribution{
		NativeID: "wq-5",
		Source:   parliament.SourceWrittenQuestion,
		Text:     "When will the review conclude?",
	}
	require.Equal(t, Enqueued, r.AdmitAll(short))
	require.Equal(t, MergedDuplicate, r.AdmitAll(short))
	require.Equal(t, 1, r.UniqueCount())
	require.Equal(t, 0, r.DroppedCount())
}

func TestRegistryDistinctSourcesDistinctIdentities(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	debate := substantiveContribution("42", "housing")
	question := substantiveContribution("42", "housing")
	question.Source = parliament.SourceWrittenQuestion

	require.Equal(t, Enqueued, r.Admit(debate))
	require.Equal(t, Enqueued, r.Admit(question))
	require.Equal(t, 2, r.UniqueCount())
}

func TestRegistryProceduralDropped(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	short := &parliament.Contribution{
		NativeID: "7",
		Source:   parliament.SourceDebate,
		Text:     "Hear, hear.",
	}
	require.Equal(t, DiscardedProcedural, r.Admit(short))
	require.Equal(t, 1, r.DroppedCount())

	// A duplicate of a dropped identity merges silently rather than
	// producing a second procedural verdict.
	require.Equal(t, MergedDuplicate, r.Admit(short))
	require.Equal(t, 1, r.DroppedCount())
	require.Equal(t, 0, r.UniqueCount())
}

func TestRegistryConcurrentAdmit(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	const workers = 16
	const perWorker = 50
	enqueued := make([]int, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c := substantiveContribution(fmt.Sprintf("id-%d", i), fmt.Sprintf("kw-%d", w))
				if r.Admit(c) == Enqueued {
					enqueued[w]++
				}
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for _, n := range enqueued {
		total += n
	}
	// Every identity admitted exactly once regardless of interleaving.
	require.Equal(t, perWorker, total)
	require.Equal(t, perWorker, r.UniqueCount())
}
