package main

import "github.com/kashguard/go-secret-learn/cmd"

func main() {
	cmd.Execute()
}
