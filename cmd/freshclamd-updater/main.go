// Command freshclamd-updater is a minimal composition root for the update
// engine: it loads configuration, then loops over a flag-supplied list of
// database names on a check interval.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/clamav-data/freshclam-updater/updater"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to an INI configuration file")
		databases     = flag.String("databases", "main,daily", "comma-separated database names to keep synchronized")
		server        = flag.String("server", "https://database.clamav.net", "mirror base URL")
		privateMirror = flag.Bool("private-mirror", false, "treat the mirror as a private server that may serve .cld files")
		scripted      = flag.Bool("scripted-updates", true, "allow incremental (cdiff) updates")
		checkInterval = flag.Duration("check-interval", time.Hour, "how often to check for updates")
		verboseErrors = flag.Bool("verbose-errors", false, "promote warnings to errors in logs")
	)
	flag.Parse()

	cfg, err := updater.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("! freshclamd-updater: failed to load configuration: %v", err)
	}

	installer := updater.NewInstaller(cfg)
	dbNames := strings.Split(*databases, ",")

	checkOnce := func() {
		for _, db := range dbNames {
			db = strings.TrimSpace(db)
			if db == "" {
				continue
			}
			result := installer.UpdateDB(db, "", *server, *privateMirror, nil, *scripted, *verboseErrors)
			if result.Status != updater.StatusOK {
				log.Printf("! freshclamd-updater: %s: update failed: %s", db, result.Status)
				continue
			}
			if result.Updated {
				log.Printf("freshclamd-updater: %s updated to %s (sigs=%d)", db, result.Filename, result.Sigs)
			} else {
				log.Printf("* freshclamd-updater: %s is up to date", db)
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*checkInterval)
	defer ticker.Stop()

	checkOnce()
	for {
		select {
		case <-ticker.C:
			checkOnce()
		case <-sigCh:
			log.Println("freshclamd-updater: shutting down")
			return
		}
	}
}
