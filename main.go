package main

import "github.com/andresmejia3/landmarker/cmd"

func main() {
	cmd.Execute()
}
