// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("go-rostersync - Local-First Roster Sync Engine")
	fmt.Println("==============================================")
	fmt.Println()
	fmt.Println("go-rostersync keeps an offline-capable SQLite mirror of roster and match")
	fmt.Println("data in step with a remote REST API: writes land locally first, a retrying")
	fmt.Println("outbox pushes them upstream, and a retention-aware refresher pulls the")
	fmt.Println("server's view back down.")
	fmt.Println()

	fmt.Println("Packages:")
	fmt.Println()
	fmt.Println("  localstore/  SQLite store, schema migrations, data-migration ledger")
	fmt.Println("  outbox/      push path: flush loop, backoff, quarantine, manual retry")
	fmt.Println("  refresh/     pull path: reference refresh, retention sweep, match cache")
	fmt.Println("  autolink/    goal/assist correlation over recorded match events")
	fmt.Println("  restapi/     HTTP client for the roster API, error classification")
	fmt.Println("  rostersync/  engine wiring the above behind lifecycle triggers")
	fmt.Println()
	fmt.Println("See DESIGN.md for the architecture notes.")
}
