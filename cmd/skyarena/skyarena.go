/*
skyarena hosts or joins a terminal chat room over UDP or WebSocket.
*/
package main

import "github.com/skycoin/skyarena/cmd/skyarena/commands"

func main() {
	commands.Execute()
}
