package main

import "github.com/appsworld/go-linkedit/cmd/linkedit/cmd"

func main() {
	cmd.Execute()
}
