// Command coreos-installer-go is the thin CLI glue over this module's core
// subsystems (osmet, the ISO/initrd embed engine, miniso, and the install
// pipeline). Flag parsing here is intentionally minimal: the real argument
// surface a production build would expose (YAML config layering, man-page
// generation) is out of scope here and is left to the external collaborator
// this package stands in for.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/coreos/coreos-installer-go/internal/config"
)

func main() {
	log.SetReportCaller(true)
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.SetFormatter(&log.TextFormatter{})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}

	if _, err := config.Load(); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "iso":
		err = runIso(os.Args[2:])
	case "pack-osmet":
		err = runPackOsmet(os.Args[2:])
	case "unpack-osmet":
		err = runUnpackOsmet(os.Args[2:])
	case "pack-miniso":
		err = runPackMiniso(os.Args[2:])
	case "unpack-miniso":
		err = runUnpackMiniso(os.Args[2:])
	case "stream-hash":
		err = runStreamHash(os.Args[2:])
	case "install":
		err = runInstall(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: coreos-installer-go <command> [flags]

commands:
  iso ignition show|embed|remove <iso>
  iso kargs show|modify|reset <iso>
  iso customize <iso>
  pack-osmet --root-mp DIR --boot-mp DIR --device PATH --output FILE
  unpack-osmet --input FILE --repo DIR --device PATH
  pack-miniso --full ISO --minimal ISO [--output FILE]
  unpack-miniso --full ISO --output ISO [--data FILE]
  stream-hash --hash-file FILE
  install --device PATH --image FILE [customization flags]`)
}
