package main

import "github.com/vietddude/badgeminter/internal/cli"

func main() {
	cli.Execute()
}
