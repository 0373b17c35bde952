package main

import "github.com/wkalt/spatialcache/cmd"

func main() {
	cmd.Execute()
}
