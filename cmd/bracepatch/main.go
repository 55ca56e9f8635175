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

package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/bracepatch/cmd/bracepatch/commands"
)

// Exit codes, so calling automation can tell "nothing to do" from
// "could not safely repair" from "crashed".
const (
	exitOK       = 0
	exitNotClean = 1
	exitFailure  = 2
	exitConfig   = 3
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bracepatch",
		Short:         "Structural text-patch engine for brace-delimited source",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}
	addRootFlags(root)

	root.AddCommand(commands.NewCheckCmd(newRootOpts))
	root.AddCommand(commands.NewPatchCmd(newRootOpts))
	root.AddCommand(commands.NewRestoreCmd(newRootOpts))

	return root
}

func run() int {
	ctx := context.Background()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("bracepatch: " + err.Error() + "\n")
		switch {
		case errors.Is(err, commands.ErrNotClean):
			return exitNotClean
		case errors.Is(err, commands.ErrConfig):
			return exitConfig
		default:
			return exitFailure
		}
	}
	return exitOK
}

func main() {
	os.Exit(run())
}
