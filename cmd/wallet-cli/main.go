package main

import "wallet-ext/cmd/wallet-cli/cmd"

func main() {
	cmd.Execute()
}
