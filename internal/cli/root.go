// Package cli is the subcommand front end: flag parsing, store wiring and
// operator output. Pipeline behavior lives in the internal packages; commands
// here stay thin.
package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "submit":
		return runSubmit(args[1:])
	case "worker":
		return runWorker(args[1:])
	case "status":
		return runStatus(args[1:])
	case "videos":
		return runVideos(args[1:])
	case "retry":
		return runRetry(args[1:])
	case "resubmit":
		return runResubmit(args[1:])
	case "cancel":
		return runCancel(args[1:])
	case "reap":
		return runReap(args[1:])
	case "cleanup":
		return runCleanup(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "browse":
		return runBrowse(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "init":
		return runInit(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("yt-ingest: queue-backed YouTube ingestion pipeline")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  yt-ingest init")
	fmt.Println("  yt-ingest submit --url <youtube-url>")
	fmt.Println("  yt-ingest worker")
	fmt.Println("  yt-ingest status --summary")
	fmt.Println()
	fmt.Println("Operator Commands:")
	fmt.Println("  init      create data dirs, write a .env template, run checks")
	fmt.Println("  doctor    dependency, database, spool and storage preflight")
	fmt.Println("  submit    classify a URL and queue a scraping job")
	fmt.Println("  worker    run the worker pool until SIGINT/SIGTERM")
	fmt.Println("  status    job, URL, or whole-pipeline status")
	fmt.Println("  videos    list videos discovered for a submitted URL")
	fmt.Println("  retry     reset a failed video to pending")
	fmt.Println("  resubmit  queue a new job for an already-submitted URL")
	fmt.Println("  cancel    cancel a pending or processing job")
	fmt.Println("  watch     live terminal dashboard")
	fmt.Println("  browse    interactive job browser")
	fmt.Println()
	fmt.Println("Maintenance Commands:")
	fmt.Println("  reap      requeue jobs stuck in processing")
	fmt.Println("  cleanup   delete finished jobs older than a cutoff")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Use --json on query/mutation commands for machine-readable output")
	fmt.Println("  - Settings come from the environment; a .env file is read when present")
}
