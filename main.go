// Command oxen is the CLI entry point.
package main

import "github.com/NahomAnteneh/oxen/cmd"

func main() {
	cmd.Execute()
}
