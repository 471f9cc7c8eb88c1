// The main package for the channel-monitor executable.
package main

import (
	"github.com/JakeFAU/channel-monitor/cmd"
)

func main() {
	cmd.Execute()
}
