package main

import "github.com/aluiziolira/go-repo-metrics/cmd/repometrics/cmd"

func main() {
	cmd.Execute()
}
