// Command stageload reconciles staging tables with configured column
// settings and bulk-loads CSV files into them, from the command line or
// through an HTTP API.
package main

import "os"

func main() {
	os.Exit(execute())
}
