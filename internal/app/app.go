package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "run", "ingest":
		return runIngest(args[1:])
	case "serve":
		return runServe(args[1:])
	case "cleanup":
		return runCleanup(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "hash-token":
		return runHashToken(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "dronewatch CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  dronewatch <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health      Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  run         Process one candidate batch from a .json or .ndjson file")
	fmt.Fprintln(os.Stderr, "  ingest      Alias for run")
	fmt.Fprintln(os.Stderr, "  serve       Start the intake API with scheduled cache cleanup")
	fmt.Fprintln(os.Stderr, "  cleanup     Prune dedup cache entries past retention")
	fmt.Fprintln(os.Stderr, "  validate    Validate candidate files against the intake schema")
	fmt.Fprintln(os.Stderr, "  hash-token  Print the bcrypt hash for INTAKE_TOKEN_HASH")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"dronewatch <command> -h\" for command-specific flags.")
}
