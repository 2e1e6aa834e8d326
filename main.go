// cloudcmd runs a command server over cloud object storage and the clients
// that talk to it.
//
//	cloudcmd server        run the server
//	cloudcmd shell         interactive client
//	cloudcmd exec <cmd>    one-shot client
package main

import (
	"os"

	"github.com/rescale/cloudcmd/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
