package main

import "fieldsync/internal/cli"

func main() {
	cli.Execute()
}
