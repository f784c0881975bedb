package main

import "github.com/terraconstructs/grid/cmd/gridauth/cmd"

func main() {
	cmd.Execute()
}
