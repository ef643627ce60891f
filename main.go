package main

import (
	"fmt"
	"os"

	"github.com/ekaya-inc/catalog-enricher/pkg/cli"

	// Register warehouse collectors.
	_ "github.com/ekaya-inc/catalog-enricher/pkg/adapters/warehouse/mssql"
	_ "github.com/ekaya-inc/catalog-enricher/pkg/adapters/warehouse/postgres"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := cli.NewRootCommand(Version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
