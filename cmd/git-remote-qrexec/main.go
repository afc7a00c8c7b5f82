// Copyright 2024 The git-remote-qrexec Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Command git-remote-qrexec is a Git remote helper (see
// gitremote-helpers(7)) that fetches signed tags and their reachable
// objects from a repository across a Qubes OS qrexec RPC boundary, trusting
// nothing the remote sends until it is SHA-1 content-verified or, for
// annotated tags, also signature-verified against a configured keyring.
//
// Git invokes it as:
//
//	git-remote-qrexec <remote-name> <url>
//
// where <url> has the form qrexec://<peer>/<repo-arg>[?keyring=<path>&...].
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/QubesOS/git-remote-qrexec/fetch"
	"github.com/QubesOS/git-remote-qrexec/internal/qlog"
	"github.com/QubesOS/git-remote-qrexec/localgit"
	"github.com/QubesOS/git-remote-qrexec/protocol"
	"github.com/QubesOS/git-remote-qrexec/qrpc"
	"github.com/QubesOS/git-remote-qrexec/sigverify"
	"github.com/QubesOS/git-remote-qrexec/urlspec"
)

// Version information, set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

// verifierBinaries are probed, in order, for the external signature
// verifier. gpgv is the conventional choice for verifying detached
// signatures without touching a user's trust database; gpg is accepted as
// a fallback for systems that don't ship gpgv separately, and is run with
// the same arguments as gpgv (no explicit --verify command).
var verifierBinaries = []string{"gpgv", "gpg"}

func probeVerifierBinary() (string, error) {
	for _, name := range verifierBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no signature verifier binary found on PATH (tried %v)", verifierBinaries)
}

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("git-remote-qrexec", flag.ContinueOnError)
	verbose := flags.CountP("verbose", "v", "increase log verbosity (repeatable)")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("git-remote-qrexec %s (%s)\n", version, commit)
		return nil
	}

	positional := flags.Args()
	if len(positional) != 2 {
		return fmt.Errorf("usage: %s <remote-name> <url>", os.Args[0])
	}
	// remoteName is part of the standard remote-helper calling convention
	// but this tool handles exactly one configured remote per process, so
	// it is only used for logging.
	remoteName, url := positional[0], positional[1]

	logger := qlog.New()
	defer logger.Sync()
	logger.SetVerbosity(*verbose)
	logger.Debug("starting git-remote-qrexec", zap.String("remote", remoteName), zap.String("url", url))

	spec, err := urlspec.Parse(url)
	if err != nil {
		return fmt.Errorf("parse remote url: %w", err)
	}

	gitDir := os.Getenv("GIT_DIR")
	if gitDir == "" {
		return fmt.Errorf("GIT_DIR is not set")
	}

	runner, err := localgit.NewRunner(gitDir)
	if err != nil {
		return fmt.Errorf("initialize local git plumbing: %w", err)
	}
	oracle := localgit.NewOracle(runner)
	store := localgit.NewStore(runner.GitDir())

	client, err := qrpc.NewClient(qrpc.Options{})
	if err != nil {
		return fmt.Errorf("initialize qrexec transport: %w", err)
	}

	verifierBin, err := probeVerifierBinary()
	if err != nil {
		return fmt.Errorf("initialize signature verifier: %w", err)
	}
	verifier, err := sigverify.NewVerifier(sigverify.Options{
		BinPath:  verifierBin,
		Keyrings: spec.Keyrings,
		Logger:   logger.Logger,
	})
	if err != nil {
		return fmt.Errorf("initialize signature verifier: %w", err)
	}

	engine := fetch.NewEngine(client, verifier, oracle, store, logger, spec.Peer, spec.RepoArg)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		// Total object count isn't known ahead of a recursive fetch, so
		// this runs as an indeterminate spinner rather than a filled bar.
		// Never shown when git captures stderr non-interactively.
		engine.SetProgress(progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("fetching objects"),
		))
	}
	driver := protocol.NewDriver(engine, spec.ListHeadOnly, logger, os.Stdin, os.Stdout)
	if err := driver.Run(ctx); err != nil {
		return fmt.Errorf("protocol session: %w", err)
	}
	return nil
}

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "git-remote-qrexec: %s\n", err)
		os.Exit(1)
	}
}
