// Command socialhub はSNSアカウント連携ダッシュボードのバックエンド。
//
// サブコマンド: serve（既定）, worker, migrate, seed, healthcheck, help
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/socialhub/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
