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

package log

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	// Disable color for testing
	color.NoColor = true
	defer func() { color.NoColor = false }()

	tests := []struct {
		name     string
		op       func(t *testing.T, logger *Logger)
		wantLogs []string
	}{
		{
			name: "log_patch_operation_committed",
			op: func(t *testing.T, logger *Logger) {
				logger.LogPatchOperation(context.Background(), PatchOperation{
					Path:            "src/ir/mod.rs",
					State:           "committed",
					RulesApplied:    2,
					UnmatchedBefore: 3,
					UnmatchedAfter:  0,
					Repair:          "append_closers",
				})
			},
			wantLogs: []string{
				"⟳ src/ir/mod.rs",
				"committed",
				"rules=2 unmatched=3→0 repair=append_closers",
			},
		},
		{
			name: "log_patch_operation_rolled_back",
			op: func(t *testing.T, logger *Logger) {
				logger.LogPatchOperation(context.Background(), PatchOperation{
					Path:            "src/lib.rs",
					State:           "rolled_back",
					UnmatchedBefore: 2,
					UnmatchedAfter:  2,
				})
			},
			wantLogs: []string{
				"✗ src/lib.rs",
				"rolled_back",
			},
		},
		{
			name: "log_messages",
			op: func(t *testing.T, logger *Logger) {
				logger.Info("info message")
				logger.Warning("warning message")
				logger.Error("error message")
				logger.Success("success message")
			},
			wantLogs: []string{
				"ℹ️  info message",
				"⚠️  warning message",
				"❌ error message",
				"✅ success message",
			},
		},
		{
			name: "header",
			op: func(t *testing.T, logger *Logger) {
				logger.Header("patching 3 units")
			},
			wantLogs: []string{
				"bracepatch",
				"• patching 3 units",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&buf, zerolog.Disabled)

			tt.op(t, logger)

			output := buf.String()
			for _, want := range tt.wantLogs {
				assert.True(t, strings.Contains(output, want),
					"output %q should contain %q", output, want)
			}
		})
	}
}

func TestLogger_Operations(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.Disabled)

	logger.LogPatchOperation(context.Background(), PatchOperation{Path: "a.rs", State: "balanced"})
	logger.LogPatchOperation(context.Background(), PatchOperation{Path: "b.rs", State: "committed"})

	ops := logger.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, "a.rs", ops[0].Path)
	assert.Equal(t, "b.rs", ops[1].Path)
}

func TestLogger_Context(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.Disabled)

	ctx := NewContext(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))

	assert.Panics(t, func() {
		FromContext(context.Background())
	})
}
