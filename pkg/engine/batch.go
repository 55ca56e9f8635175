// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunBatch processes independent units in parallel, one worker per
// unit, bounded by workers (minimum 1). Units share no mutable state,
// so results arrive in input order regardless of completion order. The
// first I/O failure cancels the remaining runs.
func (e *Engine) RunBatch(ctx context.Context, units []*SourceUnit, workers int) ([]*RunResult, error) {
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	results := make([]*RunResult, len(units))
	for i, unit := range units {
		i, unit := i, unit
		g.Go(func() error {
			result, err := e.Run(ctx, unit)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
