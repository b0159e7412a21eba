package main

import "github.com/kebairia/contentbackup/cmd"

func main() {
	cmd.Execute()
}
