// Command cartsync keeps a local view of a remote shopping cart in sync and
// checks out selected lines.
package main

import "github.com/Tetsuuya/tasty-kitchen-3/cmd/cartsync/cmd"

func main() {
	cmd.Execute()
}
