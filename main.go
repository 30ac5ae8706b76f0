package main

import "github.com/thanhpd/warelay/cmd"

func main() {
	cmd.Execute()
}
