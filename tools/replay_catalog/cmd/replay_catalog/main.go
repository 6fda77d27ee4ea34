package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	replaycatalog "solemnsky/server/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing session bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s (schema %d)\n", entry.Header.SessionID, entry.Header.SchemaVersion)
		if entry.Header.ArenaName != "" {
			fmt.Printf("  arena: %s\n", entry.Header.ArenaName)
		}
		fmt.Printf("  frames: %d, events: %d\n", entry.Header.Frames, entry.Header.Events)
		if len(entry.Header.Tuning) > 0 {
			keys := make([]string, 0, len(entry.Header.Tuning))
			for key := range entry.Header.Tuning {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			fmt.Printf("  tuning:\n")
			for _, key := range keys {
				fmt.Printf("    %s: %.3f\n", key, entry.Header.Tuning[key])
			}
		}
		fmt.Printf("  manifest: %s\n", entry.ManifestPath)
	}
}
