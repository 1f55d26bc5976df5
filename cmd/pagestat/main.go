package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tinydb/storagecore/internal/storage"
	"github.com/tinydb/storagecore/internal/storage/pager"
)

var (
	flagConfig = flag.String("config", "", "path to a YAML config file (defaults to the built-in defaults)")
	flagFile   = flag.String("file", "", "filename within the database directory to inspect")
	flagKind   = flag.String("kind", "heap", "page dialect to read the file as: heap or btree")
	flagStrKey = flag.Int("strkeylen", 0, "treat B-tree keys as fixed-width strings of this many bytes instead of int32 (only with -kind=btree)")
	flagUUID   = flag.Bool("uuidkey", false, "treat B-tree keys as 16-byte UUIDs instead of int32 (only with -kind=btree)")
)

func main() {
	flag.Parse()
	if *flagFile == "" {
		fmt.Fprintln(os.Stderr, "pagestat: -file is required")
		os.Exit(2)
	}

	cfg := storage.DefaultConfig()
	if *flagConfig != "" {
		loaded, err := storage.LoadConfig(*flagConfig)
		if err != nil {
			fmt.Fprintln(os.Stderr, "pagestat:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	fm, err := pager.NewFileManager(cfg.Directory, cfg.BlockSize, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pagestat:", err)
		os.Exit(1)
	}
	defer fm.Close()

	var kind pager.FileKind
	switch *flagKind {
	case "heap":
		kind = pager.FileKindHeap
	case "btree":
		kind = pager.FileKindBTree
	default:
		fmt.Fprintf(os.Stderr, "pagestat: unknown -kind %q (want heap or btree)\n", *flagKind)
		os.Exit(2)
	}

	layout := pager.IntLayout()
	switch {
	case *flagUUID:
		layout = pager.UUIDLayout()
	case *flagStrKey > 0:
		layout = pager.StringLayout(*flagStrKey)
	}

	report, err := pager.InspectFile(fm, *flagFile, kind, layout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pagestat:", err)
		os.Exit(1)
	}
	fmt.Print(report.String())
}
