package main

import "github.com/nextlevelbuilder/voxd/cmd"

func main() {
	cmd.Execute()
}
