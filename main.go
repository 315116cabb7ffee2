package main

import "github.com/nextlevelbuilder/modgate/cmd"

func main() {
	cmd.Execute()
}
