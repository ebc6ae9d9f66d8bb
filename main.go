package main

import "github.com/clipscribe/backend/cmd"

func main() {
	cmd.Execute()
}
