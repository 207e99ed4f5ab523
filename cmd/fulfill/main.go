package main

import (
	"os"

	"github.com/Lllllllleong/gisrequestflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
