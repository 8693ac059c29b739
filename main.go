package main

import (
	"context"

	"go.acuvity.ai/minipolicer/cli"
)

func main() {
	cli.Main(context.Background())
}
