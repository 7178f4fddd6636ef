package main

import "github.com/MeKo-Tech/retouch/cmd/retouch/cmd"

func main() {
	cmd.Execute()
}
