// Command telbridge bridges app commands (send a text, place a call) to the phone
// platform over HTTP or stdio.
package main

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	Execute()
}
