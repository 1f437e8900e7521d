// Command socialfeed はソーシャルフィードのAPIサーバー・ワーカー・マイグレーションを起動する。
//
// 使い方:
//
//	socialfeed [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/socialfeed/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "socialfeed: %v\n", err)
		os.Exit(1)
	}
}
