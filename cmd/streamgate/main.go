// streamgate is the front-door porter and HLS streamer binary.
package main

import "github.com/streamgate/streamgate/cmd/streamgate/cmd"

func main() {
	cmd.Execute()
}
