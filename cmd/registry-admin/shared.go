package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"storj.io/cratesregistry/database"
)

// cratePayload mirrors the job payload shape every job-handler package in
// this tree keeps its own private copy of (see jobs/readme.go's comment on
// why), rather than importing one of them just for this struct.
type cratePayload struct {
	CrateID int64  `json:"crate_id"`
	Name    string `json:"name"`
}

func lookupCrate(ctx context.Context, db *sql.DB, name string) (*database.Crate, error) {
	crate, err := database.FindCrateByName(ctx, db, name)
	if err == database.ErrNotFound {
		return nil, fmt.Errorf("no crate named %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("look up crate %q: %w", name, err)
	}
	return crate, nil
}

// confirm prompts the operator on stdin/stdout before a destructive
// operation, grounded on the confirmation prompts every original
// crates-admin subcommand prints before mutating anything.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
