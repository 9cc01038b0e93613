package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storj.io/cratesregistry/jobqueue"
)

// jobDefs mirrors the Definition copies kept by package publish and
// package ownership (see the comment on package indexsync's job
// Definitions, which those copies follow): one entry per job type this core's
// workers (cmd/registryd) actually register a handler for, grounded on
// original_source/src/bin/crates-admin/enqueue_job.rs, which dispatches
// on the same set of job-name strings.
var jobDefs = map[string]jobqueue.Definition{
	"sync_to_git_index":          {Name: "sync_to_git_index", Priority: 100, Queue: "repository", Deduplicated: true},
	"sync_to_sparse_index":      {Name: "sync_to_sparse_index", Priority: 100, Queue: "default", Deduplicated: true},
	"render_and_upload_readme":  {Name: "render_and_upload_readme", Queue: "default", Deduplicated: true},
	"update_default_version":    {Name: "update_default_version", Priority: 50, Queue: "default", Deduplicated: true},
	"rss_sync_crates_feed":      {Name: "rss_sync_crates_feed", Queue: "default", Deduplicated: true},
	"rss_sync_updates_feed":     {Name: "rss_sync_updates_feed", Queue: "default", Deduplicated: true},
	"check_typosquat":           {Name: "check_typosquat", Queue: "default", Deduplicated: true},
	"generate_og_image":         {Name: "generate_og_image", Queue: "default", Deduplicated: true},
	"analyze_crate_file":        {Name: "analyze_crate_file", Queue: "default", Deduplicated: true},
	"send_publish_notification": {Name: "send_publish_notification", Queue: "default", Deduplicated: false},
	"rebuild_docs":              {Name: "rebuild_docs", Queue: "default", Deduplicated: true},
}

var enqueueJobCmd = &cobra.Command{
	Use:   "enqueue-job <job-name> [crate-name]",
	Short: "Manually enqueue one background job, by job type name",
	Long: `enqueue-job inserts a single background_jobs row the same way the
HTTP API and worker handlers do, for operational recovery: re-running a
job that failed permanently, or kicking a crate through the index
pipeline by hand. crate-name is required for every job type except the
two RSS feed syncs, which take no crate argument.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runEnqueueJob,
}

func runEnqueueJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]
	def, ok := jobDefs[jobName]
	if !ok {
		return fmt.Errorf("unknown job %q; known jobs: %s", jobName, knownJobNames())
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()

	switch jobName {
	case "rss_sync_crates_feed", "rss_sync_updates_feed":
		id, enqueued, err := jobqueue.Enqueue(ctx, db, def, struct{}{})
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", jobName, err)
		}
		printEnqueueResult(jobName, id, enqueued)
		return nil
	default:
		if len(args) < 2 {
			return fmt.Errorf("job %q requires a crate-name argument", jobName)
		}
		crate, err := lookupCrate(ctx, db, args[1])
		if err != nil {
			return err
		}
		id, enqueued, err := jobqueue.Enqueue(ctx, db, def, cratePayload{CrateID: crate.ID, Name: crate.Name})
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", jobName, err)
		}
		printEnqueueResult(jobName, id, enqueued)
		return nil
	}
}

func printEnqueueResult(jobName string, id int64, enqueued bool) {
	if !enqueued {
		fmt.Printf("%s: a matching job is already queued, nothing inserted\n", jobName)
		return
	}
	fmt.Printf("%s: enqueued as job %d\n", jobName, id)
}

func knownJobNames() string {
	names := make([]string, 0, len(jobDefs))
	for name := range jobDefs {
		names = append(names, name)
	}
	return fmt.Sprintf("%v", names)
}
