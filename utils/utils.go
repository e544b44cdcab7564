package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"imgcompare/hashcmp"
	"imgcompare/similarity"
)

// Commands lists the recognised subcommands
var Commands = []string{"metric", "hash", "retrieve", "stats"}

// ParseArguments converts command-line arguments into a map of flags and values
func ParseArguments() map[string]string {
	return ParseArgs(os.Args[1:])
}

// ParseArgs is ParseArguments over an explicit argument list
func ParseArgs(argv []string) map[string]string {
	args := make(map[string]string)

	// First, identify the command
	commandIndex := -1
	for i, a := range argv {
		if isCommand(a) {
			args["command"] = a
			commandIndex = i
			break
		}
	}

	// Process all arguments, skipping the command
	for i := 0; i < len(argv); i++ {
		if i == commandIndex {
			continue
		}

		arg := argv[i]

		// Handle flags with equals sign (--key=value)
		if strings.HasPrefix(arg, "--") && strings.Contains(arg, "=") {
			parts := strings.SplitN(arg, "=", 2)
			flagName := strings.TrimPrefix(parts[0], "--")
			args[flagName] = parts[1]
			continue
		}

		// Handle flags without equals sign (--key value)
		if strings.HasPrefix(arg, "--") {
			flagName := strings.TrimPrefix(arg, "--")

			// Check if this is a boolean flag (no value)
			if i+1 >= len(argv) || strings.HasPrefix(argv[i+1], "--") || i+1 == commandIndex {
				args[flagName] = "true"
			} else {
				args[flagName] = argv[i+1]
				i++
			}
		}
	}

	return args
}

func isCommand(s string) bool {
	for _, c := range Commands {
		if s == c {
			return true
		}
	}
	return false
}

// GetDefaultDatabasePath returns the default path for the results database
func GetDefaultDatabasePath() string {
	exePath, err := os.Executable()
	if err != nil {
		return "imgcompare.db"
	}
	return filepath.Join(filepath.Dir(exePath), "imgcompare.db")
}

// PrintUsage outputs the command-line usage instructions
func PrintUsage(w io.Writer) {
	prog := filepath.Base(os.Args[0])
	fmt.Fprintf(w, "Usage:\n")
	fmt.Fprintf(w, "  %s metric --first=DIR --second=DIR --strategy=NAME [--size=512] [--workers=N]\n", prog)
	fmt.Fprintf(w, "  %s hash --first=DIR --second=DIR --strategy=NAME [--mode=best|matrix] [--include-identical]\n", prog)
	fmt.Fprintf(w, "  %s retrieve --folder=DIR [--target=N] [--threshold=0.9] [--width=512] [--max-descriptors=N]\n", prog)
	fmt.Fprintf(w, "  %s stats [--db=PATH] [--strategy=NAME]\n", prog)
	fmt.Fprintf(w, "\nCommon parameters:\n")
	fmt.Fprintf(w, "  --out          : Directory for CSV and Parquet results (default: output)\n")
	fmt.Fprintf(w, "  --db           : Store results in this SQLite database (stats default: %s)\n", GetDefaultDatabasePath())
	fmt.Fprintf(w, "  --config       : YAML configuration file\n")
	fmt.Fprintf(w, "  --workers      : Worker pool size (default: number of CPUs)\n")
	fmt.Fprintf(w, "  --metrics-addr : Serve Prometheus metrics on this address\n")
	fmt.Fprintf(w, "  --exif         : Catalog EXIF metadata of scanned images (needs exiftool)\n")
	fmt.Fprintf(w, "  --echo         : Print every comparison as it is made\n")
	fmt.Fprintf(w, "  --no-color     : Disable coloured output\n")
	fmt.Fprintf(w, "  --debug        : Enable debug mode (logs detailed information)\n")
	fmt.Fprintf(w, "  --logfile      : Write the structured log to this file\n")
	fmt.Fprintf(w, "\nMetric strategies: %s\n", strings.Join(metricNames(), ", "))
	fmt.Fprintf(w, "Hash strategies:   %s\n", strings.Join(hashNames(), ", "))
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  %s metric --first=./set1 --second=./set2 --strategy=ssim --out=results\n", prog)
	fmt.Fprintf(w, "  %s hash --first=./set1 --second=./set1 --strategy=p --db=runs.db\n", prog)
	fmt.Fprintf(w, "  %s retrieve --folder=./photos --threshold=0.85\n", prog)
}

// metricNames marks each strategy with the direction of more similar values
func metricNames() []string {
	var out []string
	for _, s := range similarity.All() {
		dir := "lower"
		if s.HigherIsSimilar {
			dir = "higher"
		}
		out = append(out, fmt.Sprintf("%s (%s)", s.Name, dir))
	}
	return out
}

func hashNames() []string {
	names := hashcmp.Names()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

// ParseIndex parses a non-negative image index
func ParseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid image index '%s'", s)
	}
	return n, nil
}
