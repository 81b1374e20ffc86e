//go:build integration

package governance_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/quorum/pkg/apperr"
	"github.com/platinummonkey/quorum/pkg/governance"
	"github.com/platinummonkey/quorum/pkg/graph/graphtest"
	"github.com/platinummonkey/quorum/pkg/workflow"
)

// Two callers leave "open" for different targets. Neither target has an
// outgoing transition, so whatever the interleaving only one may apply.
func TestPostgres_ConcurrentTransitionsFromSameStatus(t *testing.T) {
	ctx := context.Background()
	store := graphtest.NewPostgresStore(t)
	b := workflow.NewBuilder(store)

	scope := "motion_" + uuid.NewString()[:8]
	ids := map[string]int64{}
	for _, s := range []workflow.StatusInput{
		{Code: "open", IsInitial: true},
		{Code: "voting"},
		{Code: "withdrawn", IsTerminal: true},
	} {
		s.Scope = scope
		id, err := b.CreateStatus(ctx, s)
		require.NoError(t, err)
		ids[s.Code] = id
	}
	for _, to := range []string{"voting", "withdrawn"} {
		_, err := b.CreateTransition(ctx, workflow.TransitionInput{
			Scope: scope, FromStatusID: ids["open"], ToStatusID: ids[to],
		})
		require.NoError(t, err)
	}

	svc := governance.NewService(store)
	for round := 0; round < 20; round++ {
		entity := graphtest.MustEntity(t, store, "motion", uuid.NewString())
		if round%2 == 1 {
			// exercise the update path as well as the first insert
			graphtest.MustProperty(t, store, entity, workflow.PropStatus, "open")
		}

		targets := []string{"voting", "withdrawn"}
		errs := make([]error, len(targets))
		var wg sync.WaitGroup
		for i, to := range targets {
			wg.Add(1)
			go func(i int, to string) {
				defer wg.Done()
				_, errs[i] = svc.Transition(ctx, chair, scope, entity, to, "")
			}(i, to)
		}
		wg.Wait()

		applied := 0
		for _, err := range errs {
			if err == nil {
				applied++
				continue
			}
			assert.True(t, apperr.IsInvalidTransition(err), err)
		}
		require.Equal(t, 1, applied, "round %d", round)
	}
}
