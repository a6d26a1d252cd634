// Command ctstream-logcheck fetches and prints the usable CT log list and
// exits, so an operator can sanity-check CT_LOG_LIST_URL reachability
// without starting the full server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"ctstream.dev/internal/ctlist"
)

func main() {
	logListURL := flag.String("ct-log-list-url", "", "CT log list URL. Defaults to Google's published v3 list.")
	flag.Parse()

	directory := ctlist.NewDirectory(*logListURL)
	descriptors := directory.List(context.Background())
	if len(descriptors) == 0 {
		fmt.Println("Error: log list is empty or unreachable")
		os.Exit(1)
	}

	for _, d := range descriptors {
		fmt.Printf("%s\t%s\n", d.URL, d.Name)
	}
	fmt.Printf("%d usable logs\n", len(descriptors))
}
