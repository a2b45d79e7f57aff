package main

import "formflow/cmd/formflow/cmd"

func main() {
	cmd.Execute()
}
